package protocol

// Gateway /ws methods.
const (
	MethodHealth          = "health"
	MethodStatus          = "status"
	MethodChatSend        = "chat.send"
	MethodChatHistory     = "chat.history"
	MethodChatReset       = "chat.reset"
	MethodDeviceReconnect = "device.reconnect"
	MethodTraces          = "traces.recent"
)
