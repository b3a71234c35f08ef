// Package gateway is the local HTTP and websocket surface of a running
// session: chat, conversation state, the screen relay, and a live event
// stream.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/internal/bus"
	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/internal/session"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	busSubscriberID     = "gateway"
	defaultTickInterval = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Token        string // empty disables auth
	RateLimitRPM int    // chat requests per minute per remote IP
	Tracing      *tracing.Collector
	StreamClient *http.Client
	TickInterval time.Duration
	Version      string
}

// Server serves one session.
type Server struct {
	opts     Options
	sess     *session.Session
	router   *MethodRouter
	limiter  *RateLimiter
	proxy    *screen.Proxy
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client

	seq       atomic.Int64
	startedAt time.Time

	// baseCtx outlives individual requests: a chat run keeps going when the
	// HTTP caller disconnects.
	baseCtx context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// NewServer creates a server and subscribes it to the session bus.
func NewServer(sess *session.Session, opts Options) *Server {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		sess:      sess,
		limiter:   NewRateLimiter(opts.RateLimitRPM, 0),
		clients:   make(map[string]*Client),
		startedAt: time.Now(),
		baseCtx:   ctx,
		cancel:    cancel,
		upgrader: websocket.Upgrader{
			// Auth is by token, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if u := sess.StreamURL(); u != "" {
		s.proxy = screen.NewProxy(u, opts.StreamClient)
	}
	s.router = NewMethodRouter(s)
	sess.Bus.Subscribe(busSubscriberID, s.forward)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.requireToken(h))
	}
	api("POST /api/chat", s.handleChat)
	api("GET /api/messages", s.handleMessages)
	api("GET /api/state", s.handleState)
	api("POST /api/reset", s.handleReset)
	api("POST /api/reconnect", s.handleReconnect)
	api("GET /api/screenshot", s.handleScreenshot)
	api("GET /api/stream/mjpeg", s.handleStream)
	api("GET /api/traces", s.handleTraces)
	api("GET /api/traces/{id}", s.handleTrace)
	api("GET /ws", s.handleWS)
	return mux
}

// Serve accepts connections on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	go s.tickLoop(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("gateway listening", "addr", ln.Addr().String(), "auth", s.opts.Token != "")

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Close tells websocket clients the server is going away and disconnects
// them. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.sess.Bus.Unsubscribe(busSubscriberID)
		s.broadcast(protocol.NewEvent(protocol.EventShutdown, nil))

		s.mu.Lock()
		for id, c := range s.clients {
			c.Close()
			delete(s.clients, id)
		}
		s.mu.Unlock()

		s.limiter.Stop()
		s.cancel()
	})
}

// forward relays bus events to websocket clients.
func (s *Server) forward(ev bus.Event) {
	if ev.Name == protocol.EventConfigReloaded {
		return
	}
	s.broadcast(protocol.NewEvent(ev.Name, ev.Payload))
}

func (s *Server) broadcast(frame *protocol.EventFrame) {
	frame.Seq = s.seq.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.SendEvent(*frame)
	}
}

func (s *Server) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.broadcast(protocol.NewEvent(protocol.EventTick, map[string]any{
				"ts": time.Now().UnixMilli(),
			}))
		}
	}
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	slog.Info("ws client connected", "client", c.id, "remote", c.remote, "clients", n)
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	if ok {
		c.Close()
		slog.Info("ws client disconnected", "client", c.id)
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// chat runs one submit detached from the caller's cancellation.
func (s *Server) chat(ctx context.Context, message string) (*agent.RunResult, error) {
	return s.sess.Loop.SubmitText(context.WithoutCancel(ctx), message)
}
