package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/averno/clerk/internal/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a Clerk server is running",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Clerk is not running (%s unreachable)\n", url)
		return nil
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}

	fmt.Printf("Clerk is running at %s\n", url)
	if mode, ok := health["store_mode"].(string); ok {
		fmt.Printf("  store mode: %s\n", mode)
	}
	if providers, ok := health["providers"].(float64); ok {
		fmt.Printf("  providers:  %d\n", int(providers))
	}

	return nil
}
