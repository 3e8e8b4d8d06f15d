package cli

import (
	"fmt"
	"os"

	"github.com/averno/clerk/internal/config"
	"github.com/spf13/cobra"
)

var configureForce bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file you can then edit.
Provider API keys are never stored in the file; they are read from the
environment (MISTRAL_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY, each with
_1 to _5 alternates).`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil && !configureForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %v", errs[0])
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println("Set at least one provider API key, then start Clerk with: clerk serve")

	return nil
}
