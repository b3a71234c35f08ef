//go:build !otel

package cmd

import (
	"context"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
)

// initOTelExporter does nothing without the "otel" build tag.
func initOTelExporter(_ context.Context, _ *config.Config, _ *tracing.Collector) func() {
	return nil
}
