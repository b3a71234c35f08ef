package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the computer tool to an MCP client over stdio",
		Long: `Serve the computer tool over the Model Context Protocol on stdin/stdout,
so an external agent (Claude Desktop, an IDE) drives the NanoKVM. No model
API key is needed. Logs go to stderr.`,
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
			return mcp.NewServer(sess.Tools, Version).ServeStdio(ctx, os.Stdin, os.Stdout)
		},
	}
}
