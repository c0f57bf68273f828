package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Keywarden configuration",
		Long:  "Initialize a default configuration file, display the effective configuration, or set stored settings.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default keywarden.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# Keywarden Configuration
# https://github.com/keywarden/keywarden

server:
  host: 0.0.0.0
  port: 8080
  cors:
    origins:
      - "*"

# Backing store. sqlite needs no DSN; postgres and mysql do.
store:
  driver: sqlite
  dsn: ""
  # data_dir: ~/.keywarden

# Verification endpoint
verify:
  rate_limit: 600   # unauthenticated /verify requests per minute per IP

# Background sweep of expired keys and closed grace windows
sweep:
  interval: 5m

# Authentication for the admin API
auth:
  jwt_secret: ""    # Set via KEYWARDEN_AUTH_JWT_SECRET env var
  jwt_expiry: 24h
  login_rate_limit: 20   # login attempts per IP per minute

# Logging
logging:
  level: info    # debug, info, warn, error
  format: text   # text or json

# MCP server
mcp:
  enabled: false
  transport: stdio
`

func runConfigInit(force bool) error {
	path := "keywarden.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Edit the file, create an operator with 'keywarden admin create', then run 'keywarden serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'keywarden config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// ---------- config set ----------

// Stored settings live in the database, not the YAML file, so they follow
// the store across hosts. Currently used for telemetry.enabled.
func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a stored setting (e.g. telemetry.enabled false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.SetSetting(context.Background(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		},
	}
	return cmd
}
