package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/hid"
)

func hidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hid",
		Short: "Send keyboard and mouse input to the device without a model",
	}
	cmd.AddCommand(
		hidActionCmd("type TEXT", "Type text", 1),
		hidActionCmd("key NAME", "Press a key or combination (e.g. ctrl+alt+Delete)", 1),
		hidActionCmd("move X Y", "Move the pointer to screen coordinates", 2),
		hidActionCmd("click [X Y]", "Left-click, optionally after moving", 0),
		hidActionCmd("double [X Y]", "Double-click, optionally after moving", 0),
		hidDecodeCmd(),
	)
	return cmd
}

func hidActionCmd(use, short string, minArgs int) *cobra.Command {
	name := strings.Fields(use)[0]
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "type" {
				args = []string{strings.Join(args, " ")}
			}
			a, err := tools.ParseCommand(append([]string{name}, args...))
			if err != nil {
				return err
			}
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

			if _, err := tools.NewDirectActions(sess.Computer).Run(ctx, a); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "ok:", a.String())
			return nil
		},
	}
}

func hidDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode HEX...",
		Short: "Describe HID frames given as hex (e.g. 010400000000 or \"01 04 00 00 00 00\")",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed bool
			for _, arg := range splitFrames(args) {
				data, err := hex.DecodeString(arg)
				if err != nil {
					fmt.Printf("%s: invalid hex: %v\n", arg, err)
					failed = true
					continue
				}
				f, err := hid.ParseFrame(data)
				if err != nil {
					fmt.Printf("%s: %v\n", arg, err)
					failed = true
					continue
				}
				fmt.Printf("%s: %s\n", arg, hid.Describe(f))
			}
			if failed {
				return errors.New("some frames could not be decoded")
			}
			return nil
		},
	}
}

// splitFrames accepts one frame per argument, or one argument of
// space-separated bytes, and strips 0x prefixes and separators.
func splitFrames(args []string) []string {
	if len(args) > 1 && len(args[0]) == 2 {
		args = []string{strings.Join(args, "")}
	}
	out := make([]string, 0, len(args))
	for _, a := range args {
		a = strings.ReplaceAll(a, "0x", "")
		a = strings.NewReplacer(" ", "", ":", "", ",", "").Replace(a)
		out = append(out, a)
	}
	return out
}
