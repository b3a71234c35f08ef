//go:build tsnet

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
)

// initTailscale serves handler on the tailnet as well as the local
// listener, so a remote operator can reach the agent without exposing it.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	tc := cfg.Tailscale
	if tc.Hostname == "" {
		slog.Debug("tsnet: compiled in but not configured (set tailscale.hostname)")
		return nil
	}

	node := &tsnet.Server{
		Hostname:  tc.Hostname,
		AuthKey:   tc.AuthKey,
		Ephemeral: tc.Ephemeral,
		Dir:       tc.StateDir,
	}

	addr := ":80"
	var (
		ln  net.Listener
		err error
	)
	if tc.EnableTLS {
		addr = ":443"
		ln, err = node.ListenTLS("tcp", addr)
	} else {
		ln, err = node.Listen("tcp", addr)
	}
	if err != nil {
		slog.Warn("tsnet: listen failed", "error", err)
		node.Close()
		return nil
	}
	slog.Info("tsnet: listening", "hostname", tc.Hostname, "addr", addr, "tls", tc.EnableTLS)

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("tsnet: serve failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return func() {
		srv.Close()
		node.Close()
		slog.Info("tsnet: stopped")
	}
}
