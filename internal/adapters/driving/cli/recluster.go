package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Recompute semantic clusters over the corpus",
	Long: `Projects document centroids to a lower dimension and groups them with
density-based clustering. Assignments enrich neighbour suggestions; they
never gate retrieval.`,
	Args: cobra.NoArgs,
	RunE: runRecluster,
}

func init() {
	rootCmd.AddCommand(reclusterCmd)
}

func runRecluster(cmd *cobra.Command, _ []string) error {
	if adminService == nil {
		return errors.New("admin service not configured")
	}

	count, err := adminService.Recluster(cmd.Context())
	if err != nil {
		return fmt.Errorf("recluster failed: %w", err)
	}
	cmd.Printf("Clustered %d documents\n", count)
	return nil
}
