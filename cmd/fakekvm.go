package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/device/fakedevice"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
)

func fakeKVMCmd() *cobra.Command {
	var (
		addr  string
		image string
	)
	cmd := &cobra.Command{
		Use:    "fake-kvm",
		Short:  "Run a simulated NanoKVM that logs the HID frames it receives",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newFakeDevice(image)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			srv := &http.Server{Addr: addr, Handler: d, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			go logFrames(ctx, d)

			fmt.Fprintf(os.Stderr, "fake NanoKVM on http://%s (HID %s, stream %s)\n", addr, fakedevice.HIDPath, fakedevice.StreamPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&image, "image", "", "image file to serve as the screen (default gray 1024x768)")
	return cmd
}

func newFakeDevice(path string) (*fakedevice.Device, error) {
	if path == "" {
		return fakedevice.New(nil)
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return fakedevice.New(img)
}

func logFrames(ctx context.Context, d *fakedevice.Device) {
	seen := 0
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		frames := d.Frames()
		for _, f := range frames[seen:] {
			if f.Kind() == hid.KindKeepAlive {
				slog.Debug("fake-kvm: frame", "frame", hid.Describe(f))
				continue
			}
			slog.Info("fake-kvm: frame", "frame", hid.Describe(f))
		}
		seen = len(frames)
	}
}
