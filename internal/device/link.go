// Package device owns the persistent duplex connection to the NanoKVM HID
// endpoint: ordered binary writes, the keep-alive loop, inbound dispatch and
// the close sequence.
package device

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	// DefaultPath is the NanoKVM HID websocket path.
	DefaultPath = "/api/ws"

	defaultWriteTimeout = 10 * time.Second

	// keepAliveSubscription is the name the keep-alive holds in the
	// subscription table, so Close tears it down before the transport.
	keepAliveSubscription = "keepalive"
)

// Handler receives inbound device messages. The payload is not interpreted.
type Handler func(messageType int, data []byte)

// Notifier receives link lifecycle events (protocol.DeviceEvent* names).
type Notifier func(event string, err error)

// Options configures a Link.
type Options struct {
	Endpoint          string        // ws(s)://host/api/ws
	KeepAliveInterval time.Duration // default 60s
	WriteTimeout      time.Duration // default 10s
	Dial              DialFunc      // default gorilla/websocket
	NewTicker         func(time.Duration) Ticker
	Notify            Notifier
}

// Link is the single logical connection to the device. All writes go
// through one writer lock so frames reach the device in call order.
type Link struct {
	opts Options

	mu        sync.Mutex // guards conn, closed, keepAlive, readDone
	conn      Conn
	closed    bool
	keepAlive *KeepAlive
	readDone  chan struct{}

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]Handler
}

// NewLink creates an unconnected link.
func NewLink(opts Options) *Link {
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dial == nil {
		opts.Dial = WebsocketDialer(nil, nil)
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewRealTicker
	}
	return &Link{
		opts: opts,
		subs: make(map[string]Handler),
	}
}

// Connect dials the device and starts the read pump and keep-alive.
// Calling Connect on a connected link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return &Error{Op: "connect", Err: ErrClosed}
	}
	if l.conn != nil {
		return nil
	}
	return l.dialLocked(ctx, "connect")
}

// Reconnect tears down the current transport (keeping subscriptions) and
// dials again.
func (l *Link) Reconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return &Error{Op: "reconnect", Err: ErrClosed}
	}
	l.teardownLocked()
	return l.dialLocked(ctx, "reconnect")
}

func (l *Link) dialLocked(ctx context.Context, op string) error {
	conn, err := l.opts.Dial(ctx, l.opts.Endpoint)
	if err != nil {
		return linkDown(op, err)
	}
	l.conn = conn
	l.readDone = make(chan struct{})
	go l.readPump(conn, l.readDone)

	l.keepAlive = NewKeepAlive(l.opts.KeepAliveInterval, func() error {
		return l.write(conn, hid.EncodeKeepAlive().Bytes())
	}, l.opts.NewTicker, func(err error) {
		l.notify(protocol.DeviceEventKeepAliveFailed, err)
	})
	l.keepAlive.Start()
	l.subsMu.Lock()
	l.subs[keepAliveSubscription] = nil
	l.subsMu.Unlock()

	slog.Info("device link connected", "endpoint", l.opts.Endpoint)
	l.notify(protocol.DeviceEventConnected, nil)
	return nil
}

// teardownLocked stops the keep-alive and closes the transport. Caller
// holds l.mu.
func (l *Link) teardownLocked() {
	if l.keepAlive != nil {
		l.keepAlive.Stop()
		l.keepAlive = nil
	}
	l.subsMu.Lock()
	delete(l.subs, keepAliveSubscription)
	l.subsMu.Unlock()

	if l.conn != nil {
		l.writeMu.Lock()
		if err := l.conn.Close(); err != nil {
			slog.Debug("device transport close", "error", err)
		}
		l.writeMu.Unlock()
		<-l.readDone
		l.conn = nil
	}
}

// Send writes one binary frame. Errors are *Error matching ErrLinkDown or
// ErrClosed. There is no retry.
func (l *Link) Send(frame []byte) error {
	l.mu.Lock()
	conn, closed := l.conn, l.closed
	l.mu.Unlock()

	if closed {
		return &Error{Op: "send", Err: ErrClosed}
	}
	if conn == nil {
		return linkDown("send", nil)
	}
	if err := l.write(conn, frame); err != nil {
		return linkDown("send", err)
	}
	return nil
}

// SendFrame writes an encoded HID frame.
func (l *Link) SendFrame(f hid.Frame) error {
	return l.Send(f.Bytes())
}

func (l *Link) write(conn Conn, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close stops the keep-alive, removes every subscription, then closes the
// transport. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.keepAlive != nil {
		l.keepAlive.Stop()
		l.keepAlive = nil
	}
	l.subsMu.Lock()
	for name := range l.subs {
		delete(l.subs, name)
	}
	l.subsMu.Unlock()

	var err error
	if l.conn != nil {
		l.writeMu.Lock()
		_ = l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = l.conn.Close()
		l.writeMu.Unlock()
		<-l.readDone
		l.conn = nil
	}

	slog.Info("device link closed", "endpoint", l.opts.Endpoint)
	l.notify(protocol.DeviceEventClosed, nil)
	return err
}

// Connected reports whether a transport is up.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil && !l.closed
}

// Register adds (or replaces) a named inbound handler.
func (l *Link) Register(name string, h Handler) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	l.subs[name] = h
}

// Unregister removes a named handler.
func (l *Link) Unregister(name string) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	delete(l.subs, name)
}

// Subscriptions returns the registered names, sorted.
func (l *Link) Subscriptions() []string {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	names := make([]string, 0, len(l.subs))
	for name := range l.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Link) readPump(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("device read error", "error", err)
			}
			return
		}
		l.dispatch(mt, data)
	}
}

func (l *Link) dispatch(mt int, data []byte) {
	l.subsMu.RLock()
	handlers := make([]Handler, 0, len(l.subs))
	for _, h := range l.subs {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	l.subsMu.RUnlock()

	for _, h := range handlers {
		h(mt, data)
	}
}

func (l *Link) notify(event string, err error) {
	if l.opts.Notify != nil {
		l.opts.Notify(event, err)
	}
}
