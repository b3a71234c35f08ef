//go:build otel

package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing/otelexport"
)

// initOTelExporter attaches an OTLP exporter to the collector when
// telemetry is enabled. The returned func flushes and shuts it down.
func initOTelExporter(ctx context.Context, cfg *config.Config, collector *tracing.Collector) func() {
	if collector == nil {
		return nil
	}
	tc := cfg.Telemetry
	if !tc.Enabled || tc.Endpoint == "" {
		slog.Debug("otel: export compiled in but disabled (set telemetry.enabled and telemetry.endpoint)")
		return nil
	}

	exp, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:    tc.Endpoint,
		Protocol:    tc.Protocol,
		Insecure:    tc.Insecure,
		ServiceName: tc.ServiceName,
		Version:     Version,
		Headers:     tc.Headers,
	})
	if err != nil {
		slog.Warn("otel: exporter setup failed", "error", err)
		return nil
	}

	collector.SetExporter(exp)
	slog.Info("otel: exporting spans", "endpoint", tc.Endpoint, "protocol", tc.Protocol)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("otel: shutdown failed", "error", err)
		}
	}
}
