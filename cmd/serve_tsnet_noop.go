//go:build !tsnet

package cmd

import (
	"context"
	"net/http"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
)

// initTailscale does nothing without the "tsnet" build tag.
func initTailscale(_ context.Context, _ *config.Config, _ http.Handler) func() {
	return nil
}
