package device

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the duplex transport under a Link. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a transport to the device.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// WebsocketDialer returns a DialFunc backed by gorilla/websocket.
// A nil dialer uses websocket.DefaultDialer.
func WebsocketDialer(d *websocket.Dialer, header http.Header) DialFunc {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, endpoint string) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return conn, nil
	}
}

// Endpoint turns the KVM base URL (http or ws scheme, or a bare host) and a
// path into the websocket URL of the HID channel.
func Endpoint(kvmURL, path string) (string, error) {
	if kvmURL == "" {
		return "", fmt.Errorf("kvm url is empty")
	}
	if !strings.Contains(kvmURL, "://") {
		kvmURL = "http://" + kvmURL
	}
	u, err := url.Parse(kvmURL)
	if err != nil {
		return "", fmt.Errorf("parse kvm url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported kvm url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("kvm url has no host")
	}
	if path == "" {
		path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// Ticker is the keep-alive clock. Tests substitute a manual one.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
