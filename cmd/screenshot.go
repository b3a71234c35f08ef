package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
)

func screenshotCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save the device screen as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			sess, err := openSession(ctx, cfg, false, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			frame, err := tools.NewDirectActions(sess.Computer).Screenshot(cctx)
			if err != nil {
				return fmt.Errorf("capture: %w", err)
			}
			if output == "-" {
				_, err = os.Stdout.Write(frame.PNG)
				return err
			}
			if err := os.WriteFile(output, frame.PNG, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved %s (%dx%d, %d bytes)\n", output, frame.Width, frame.Height, len(frame.PNG))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "screenshot.png", "output file, or - for stdout")
	return cmd
}
