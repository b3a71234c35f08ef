package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/providers"
	"github.com/chunlea/computer-use-with-nanokvm/internal/session"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	verbose bool
	logJSON bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvmagent",
		Short: "Drive a computer through a NanoKVM with a computer-use model",
		Long: `kvmagent connects a computer-use model to a NanoKVM: the model sees the
KVM's video stream and acts through its USB keyboard and mouse.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ~/.kvmagent/config.json5, or $"+config.EnvConfigPath+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		chatCmd(),
		serveCmd(),
		mcpCmd(),
		hidCmd(),
		screenshotCmd(),
		configCmd(),
		onboardCmd(),
		doctorCmd(),
		fakeKVMCmd(),
		versionCmd(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvmagent %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// setupLogging configures the default slog logger from the flags and the
// log section of the config. Logs go to stderr so stdout stays clean for
// command output and the MCP stdio transport.
func setupLogging() {
	level := slog.LevelInfo
	format := "text"
	if cfg, err := config.Load(resolveConfigPath()); err == nil {
		level = parseLevel(cfg.Log.Level)
		if cfg.Log.Format != "" {
			format = cfg.Log.Format
		}
	}
	if verbose {
		level = slog.LevelDebug
	}
	if logJSON {
		format = "json"
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads and validates the config file.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	return cfg, nil
}

var errNoAPIKey = errors.New("no API key: set " + config.EnvAPIKey + " or run `kvmagent onboard`")

func newProvider(cfg *config.Config) (providers.Provider, error) {
	if cfg.Model.APIKey == "" {
		return nil, errNoAPIKey
	}
	reg := providers.NewRegistry()
	reg.Register(providers.NewAnthropicProvider(cfg.Model.APIKey, cfg.Model.APIBase, cfg.Model.Name))
	return reg.Get(cfg.Model.Provider)
}

// openSession connects to the device described by cfg. withModel=false
// opens a device-only session (hid, screenshot).
func openSession(ctx context.Context, cfg *config.Config, withModel bool, collector *tracing.Collector) (*session.Session, error) {
	var p providers.Provider
	if withModel {
		var err error
		if p, err = newProvider(cfg); err != nil {
			return nil, err
		}
	}
	return openWith(ctx, sessionOptions(cfg, p, collector))
}

func sessionOptions(cfg *config.Config, p providers.Provider, collector *tracing.Collector) session.Options {
	opts := session.OptionsFromConfig(cfg, p)
	opts.Tracing = collector
	return opts
}

func openWith(ctx context.Context, opts session.Options) (*session.Session, error) {
	sess, err := session.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open session with %s: %w", opts.KVMURL, err)
	}
	return sess, nil
}
