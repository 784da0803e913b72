package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health",
	Long: `Reports provider circuit-breaker states, search-cache reachability
and the cache-propagation backlog.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if adminService == nil {
		return errors.New("admin service not configured")
	}

	health, err := adminService.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if statusJSON {
		data, err := json.MarshalIndent(health, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println("Embedding providers:")
	printProviders(cmd, health.EmbeddingProviders)
	cmd.Println("LLM providers:")
	printProviders(cmd, health.LLMProviders)

	if health.CacheReachable {
		cmd.Printf("Search cache:  reachable (lag %s)\n", health.CacheLag)
	} else {
		cmd.Println("Search cache:  unreachable (serving degraded from primary store)")
	}
	cmd.Printf("Outbox depth:  %d pending tasks\n", health.OutboxDepth)
	return nil
}

func printProviders(cmd *cobra.Command, providers []driving.ProviderHealth) {
	if len(providers) == 0 {
		cmd.Println("  (none configured)")
		return
	}
	for _, p := range providers {
		cmd.Printf("  %-28s %s", p.Name, p.State)
		if p.ConsecutiveFailures > 0 {
			cmd.Printf(" (%d consecutive failures)", p.ConsecutiveFailures)
		}
		cmd.Println()
	}
}
