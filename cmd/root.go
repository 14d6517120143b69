package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when neither --config nor WALINK_CONFIG is set.
const DefaultConfigPath = "walink.json5"

var (
	cfgFile string
	verbose bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "walink",
		Short: "Multi-tenant WhatsApp linking and messaging gateway",
		Long: "walink links WhatsApp accounts by pairing code or QR, keeps one live\n" +
			"connection per tenant, forwards inbound messages to webhooks and\n" +
			"exposes a small HTTP API for sending.",
		SilenceUsage: true,
		// Running without a subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $WALINK_CONFIG or walink.json5)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "walink base URL for client commands (default from config)")
	root.PersistentFlags().StringVar(&apiToken, "token", "", "API bearer token for client commands (default server.token)")

	root.AddCommand(serveCmd())
	root.AddCommand(pairingCmd())
	root.AddCommand(sessionCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the config file: flag, then env, then default.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("WALINK_CONFIG"); v != "" {
		return v
	}
	return DefaultConfigPath
}
