package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/gateway"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local gateway (HTTP API, websocket events, stream proxy)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Gateway.Addr()
			}
			return runServe(cfg, addr, offline)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default gateway.host:gateway.port)")
	cmd.Flags().BoolVar(&offline, "allow-offline", false, "start even if the device is unreachable")
	return cmd
}

func runServe(cfg *config.Config, addr string, offline bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := tracing.NewCollector(0)
	if shutdown := initOTelExporter(ctx, cfg, collector); shutdown != nil {
		defer shutdown()
	}
	collector.Start()
	defer collector.Stop()

	p, err := newProvider(cfg)
	if err != nil {
		return err
	}
	opts := sessionOptions(cfg, p, collector)
	opts.AllowOffline = offline
	sess, err := openWith(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	srv := gateway.NewServer(sess, gateway.Options{
		Token:        cfg.Gateway.Token,
		RateLimitRPM: cfg.Gateway.RateLimitRPM,
		Tracing:      collector,
		Version:      Version,
	})
	if cleanup := initTailscale(ctx, cfg, srv.Handler()); cleanup != nil {
		defer cleanup()
	}

	if w, err := config.NewWatcher(resolveConfigPath()); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		w.OnChange(sess.ApplyConfig)
		if err := w.Start(); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if cfg.Gateway.Token == "" {
		slog.Warn("gateway.token is empty: the API is open to anyone who can reach " + addr)
	}
	fmt.Fprintf(os.Stderr, "kvmagent gateway on http://%s (model %s, device %s)\n", addr, sess.Loop.Model(), cfg.KVM.URL)

	return srv.ListenAndServe(ctx, addr)
}
