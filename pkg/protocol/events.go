package protocol

// Event names broadcast on the bus and pushed to /ws clients.
const (
	EventAgent    = "agent"
	EventDevice   = "device"
	EventHealth   = "health"
	EventTick     = "tick"
	EventShutdown = "shutdown"

	// Internal, not forwarded to WS clients.
	EventConfigReloaded = "config.reloaded"
)

// Agent event subtypes (in payload.type)
const (
	AgentEventRunStarted   = "run.started"
	AgentEventRunCompleted = "run.completed"
	AgentEventRunFailed    = "run.failed"
	AgentEventToolCall     = "tool.call"
	AgentEventToolResult   = "tool.result"
	AgentEventTurnAppended = "turn.appended"
)

// Device event subtypes (in payload.type)
const (
	DeviceEventConnected       = "device.connected"
	DeviceEventClosed          = "device.closed"
	DeviceEventKeepAliveFailed = "device.keepalive_failed"
)
