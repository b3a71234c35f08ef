package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check configuration",
	}
	cmd.AddCommand(configShowCmd(), configPathCmd(), configValidateCmd(), configForgetKeyCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
				os.Exit(1)
			}
			data, err := cfg.Redacted().MarshalIndent()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if cfg.Model.APIKey == "" {
				fmt.Fprintln(os.Stderr, "Warning: no API key; chat and serve will not start.")
			}
			fmt.Printf("Config at %s is valid.\n", resolveConfigPath())
		},
	}
}

func configForgetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-key",
		Short: "Remove the API key from the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return err
			}
			fmt.Println("API key removed from keyring.")
			return nil
		},
	}
}
