package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the DittoLock configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  dittolock config validate

  # Validate specific config file
  dittolock config validate --config /etc/dittolock/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Lock.GCInterval == 0 {
		warnings = append(warnings, "lock.gc_interval is 0 - idle locks are never collected")
	}
	if cfg.Gateway.RecallBatchSize < 2 {
		warnings = append(warnings, "gateway.recall_batch_size below 2 - recall commits are not batched")
	}
	if cfg.Metrics.Enabled && !cfg.API.IsEnabled() && cfg.Metrics.Port == 0 {
		warnings = append(warnings, "metrics are enabled but neither the API nor metrics.port serves them")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Client ID:       %s\n", cfg.Lock.ClientID)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  GC interval:     %s\n", cfg.Lock.GCInterval)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
