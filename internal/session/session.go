// Package session assembles one agent session: the device link, the screen
// source, the computer tool and the agent loop, all publishing to one bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/internal/bus"
	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/device"
	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/screen"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const (
	defaultCloseTimeout = 30 * time.Second
	warmupTimeout       = 5 * time.Second
)

// Options configures Open. Zero values fall back to the NanoKVM defaults.
type Options struct {
	KVMURL       string
	WSPath       string
	StreamPath   string
	KeepAlive    time.Duration
	StreamMaxAge time.Duration
	Display      tools.Display

	Provider             providers.Provider
	Model                string
	MaxTokens            int
	System               string
	MaxToolRounds        int
	KeepScreenshots      int
	RPM                  int
	ToolRateLimitPerHour int
	InjectionAction      string

	Bus     *bus.MessageBus // created when nil
	Tracing *tracing.Collector

	// AllowOffline keeps Open going when the first connect fails; the
	// link can be brought up later with Reconnect.
	AllowOffline bool
	CloseTimeout time.Duration

	Dial       device.DialFunc
	NewTicker  func(time.Duration) device.Ticker
	Screen     screen.Source // overrides the MJPEG stream
	HTTPClient *http.Client
	Sleep      func(time.Duration)
}

// OptionsFromConfig maps the config file onto session options.
func OptionsFromConfig(cfg *config.Config, p providers.Provider) Options {
	return Options{
		KVMURL:       cfg.KVM.URL,
		WSPath:       cfg.KVM.WSPath,
		StreamPath:   cfg.KVM.StreamPath,
		KeepAlive:    cfg.KVM.KeepAlive(),
		StreamMaxAge: time.Duration(cfg.KVM.StreamMaxAgeSeconds) * time.Second,
		Display: tools.Display{
			Width:  cfg.Display.Width,
			Height: cfg.Display.Height,
			Number: cfg.Display.Number,
		},
		Provider:             p,
		Model:                cfg.Model.Name,
		MaxTokens:            cfg.Model.MaxTokens,
		System:               cfg.Model.SystemPrompt,
		MaxToolRounds:        cfg.Model.MaxToolRounds,
		KeepScreenshots:      cfg.Model.KeepScreenshots,
		RPM:                  cfg.Model.RPM,
		ToolRateLimitPerHour: cfg.Tools.RateLimitPerHour,
		InjectionAction:      cfg.Model.InjectionAction,
	}
}

// DeviceEvent is the payload of protocol.EventDevice bus events.
type DeviceEvent struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Status is a point-in-time summary of the session.
type Status struct {
	ID            string      `json:"id"`
	State         agent.State `json:"state"`
	Connected     bool        `json:"connected"`
	Model         string      `json:"model"`
	Turns         int         `json:"turns"`
	Subscriptions []string    `json:"subscriptions"`
	StreamURL     string      `json:"stream_url,omitempty"`
}

// Session owns the device link and everything built on it.
type Session struct {
	ID       string
	Bus      *bus.MessageBus
	Link     *device.Link
	Screen   screen.Source
	Computer *tools.ComputerTool
	Tools    *tools.Registry
	Loop     *agent.Loop
	Tracing  *tracing.Collector

	provider     *providers.RateLimited
	stream       *screen.MJPEGSource
	streamURL    string
	closeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Open builds the session and connects to the device. The first screen
// capture runs alongside the connect; its failure is only logged.
func Open(ctx context.Context, opts Options) (*Session, error) {
	endpoint, err := device.Endpoint(opts.KVMURL, opts.WSPath)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if opts.Display.Width <= 0 || opts.Display.Height <= 0 {
		opts.Display = tools.DefaultDisplay
	}

	s := &Session{
		ID:           uuid.NewString(),
		Bus:          opts.Bus,
		Tracing:      opts.Tracing,
		closeTimeout: opts.CloseTimeout,
	}
	if s.Bus == nil {
		s.Bus = bus.New()
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = defaultCloseTimeout
	}

	s.Link = device.NewLink(device.Options{
		Endpoint:          endpoint,
		KeepAliveInterval: opts.KeepAlive,
		Dial:              opts.Dial,
		NewTicker:         opts.NewTicker,
		Notify:            s.deviceNotify,
	})

	s.Screen = opts.Screen
	if s.Screen == nil {
		streamPath := opts.StreamPath
		if streamPath == "" {
			streamPath = screen.DefaultStreamPath
		}
		s.streamURL = config.NormalizeKVMURL(opts.KVMURL) + streamPath
		s.stream = screen.NewMJPEGSource(screen.MJPEGOptions{
			URL:    s.streamURL,
			Width:  opts.Display.Width,
			Height: opts.Display.Height,
			Client: opts.HTTPClient,
			MaxAge: opts.StreamMaxAge,
		})
		// The stream outlives ctx, which only bounds Open.
		s.stream.Start(context.Background())
		s.Screen = s.stream
	}

	s.Computer = tools.NewComputerTool(s.Link, s.Screen, opts.Display)
	if opts.Sleep != nil {
		s.Computer.SetSleeper(opts.Sleep)
	}
	s.Tools = tools.NewRegistry()
	s.Tools.Register(s.Computer)
	s.Tools.SetRateLimiter(tools.NewToolRateLimiter(opts.ToolRateLimitPerHour))

	var p providers.Provider
	if opts.Provider != nil {
		s.provider = providers.NewAdjustableRateLimited(opts.Provider, opts.RPM)
		p = s.provider
	}
	s.Loop = agent.NewLoop(agent.LoopConfig{
		ID:              s.ID,
		Provider:        p,
		Model:           opts.Model,
		MaxTokens:       opts.MaxTokens,
		System:          opts.System,
		Tools:           s.Tools,
		MaxToolRounds:   opts.MaxToolRounds,
		KeepScreenshots: opts.KeepScreenshots,
		Bus:             s.Bus,
		Tracing:         opts.Tracing,
		InjectionAction: opts.InjectionAction,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Link.Connect(gctx)
	})
	g.Go(func() error {
		wctx, cancel := context.WithTimeout(gctx, warmupTimeout)
		defer cancel()
		if _, err := s.Screen.Capture(wctx); err != nil {
			slog.Warn("session: screen warm-up failed", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if !opts.AllowOffline {
			s.stopStream()
			return nil, fmt.Errorf("session: %w", err)
		}
		slog.Warn("session: device unreachable, continuing offline", "endpoint", endpoint, "error", err)
	}

	slog.Info("session opened",
		"id", s.ID,
		"endpoint", endpoint,
		"model", s.Loop.Model(),
		"display", fmt.Sprintf("%dx%d", opts.Display.Width, opts.Display.Height),
	)
	return s, nil
}

func (s *Session) deviceNotify(event string, err error) {
	ev := DeviceEvent{Type: event}
	if err != nil {
		ev.Error = err.Error()
	}
	s.Bus.Broadcast(bus.Event{Name: protocol.EventDevice, Payload: ev})
}

// Reconnect re-dials the device, keeping subscriptions.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.Link.Reconnect(ctx); err != nil {
		return err
	}
	slog.Info("session: device reconnected", "id", s.ID)
	return nil
}

// ApplyConfig applies the settings that can change without reopening the
// session. Device and display changes need a restart.
func (s *Session) ApplyConfig(cfg *config.Config) {
	s.Loop.SetModel(cfg.Model.Name)
	s.Loop.SetMaxTokens(cfg.Model.MaxTokens)
	s.Loop.SetMaxToolRounds(cfg.Model.MaxToolRounds)
	s.Loop.SetKeepScreenshots(cfg.Model.KeepScreenshots)
	if s.provider != nil {
		s.provider.SetRPM(cfg.Model.RPM)
	}
	s.Tools.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))

	slog.Info("session: config applied", "id", s.ID, "model", s.Loop.Model())
	s.Bus.Broadcast(bus.Event{Name: protocol.EventConfigReloaded, Payload: map[string]any{
		"model":           s.Loop.Model(),
		"max_tool_rounds": cfg.Model.MaxToolRounds,
	}})
}

// Status reports the session state.
func (s *Session) Status() Status {
	return Status{
		ID:            s.ID,
		State:         s.Loop.State(),
		Connected:     s.Link.Connected(),
		Model:         s.Loop.Model(),
		Turns:         s.Loop.Conversation().Len(),
		Subscriptions: s.Link.Subscriptions(),
		StreamURL:     s.streamURL,
	}
}

// StreamURL is the upstream MJPEG URL, empty when a custom screen source is used.
func (s *Session) StreamURL() string { return s.streamURL }

// Close waits for the in-flight run (bounded by CloseTimeout), then stops
// the stream and closes the link. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()
		if err := s.Loop.WaitIdle(ctx); err != nil {
			slog.Warn("session: closing with a run in flight", "id", s.ID, "error", err)
		}
		s.stopStream()
		if err := s.Link.Close(); err != nil && !errors.Is(err, device.ErrClosed) {
			s.closeErr = err
		}
		slog.Info("session closed", "id", s.ID)
	})
	return s.closeErr
}

func (s *Session) stopStream() {
	if s.stream != nil {
		s.stream.Stop()
	}
}
