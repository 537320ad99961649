package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/internal/cli/prompt"
	"github.com/marmos91/dittolock/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample DittoLock configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittolock/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dittolock init

  # Initialize with custom path
  dittolock init --config /etc/dittolock/config.yaml

  # Overwrite an existing config without asking
  dittolock init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without asking")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(configPath); err == nil && !force {
		ok, err := prompt.Confirm(fmt.Sprintf("%s already exists. Overwrite", configPath), false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(configPath, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set lock.client_id to a name unique in your cluster")
	fmt.Println("  2. Start the node with: dittolock start")
	fmt.Printf("  3. Or specify custom config: dittolock start --config %s\n", configPath)
	return nil
}
