package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/walink/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
				os.Exit(1)
			}

			data, _ := json.MarshalIndent(redactConfig(cfg), "", "  ")
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
		Short: "Validate configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			if _, err := config.Load(cfgPath); err != nil {
				fmt.Fprintf(os.Stderr, "Invalid config: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Config at %s is valid.\n", cfgPath)
		},
	}
}

// redactConfig returns a copy with the token and connection credentials masked.
func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Server.Token = maskSecret(cfg.Server.Token)
	if cfg.Storage.RedisURL != "" {
		out.Storage.RedisURL = redactDSN(cfg.Storage.RedisURL)
	}
	if cfg.Storage.PostgresDSN != "" {
		out.Storage.PostgresDSN = redactDSN(cfg.Storage.PostgresDSN)
	}
	if len(cfg.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(cfg.Telemetry.Headers))
		for k, v := range cfg.Telemetry.Headers {
			out.Telemetry.Headers[k] = maskSecret(v)
		}
	}
	return &out
}

// redactDSN hides the userinfo of a URL-style connection string.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "****" // key=value DSNs may carry password=
	}
	if u.User != nil {
		u.User = url.User("****")
	}
	return u.String()
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	default:
		return "****"
	}
}
