package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

var neighborsJSON bool

var neighborsCmd = &cobra.Command{
	Use:   "neighbors [document-id]",
	Short: "List documents similar to a document",
	Long: `Shows the nearest-neighbour suggestions for a document, computed
from centroid similarity and cached with a TTL.`,
	Args: cobra.ExactArgs(1),
	RunE: runNeighbors,
}

func init() {
	neighborsCmd.Flags().BoolVar(&neighborsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(neighborsCmd)
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	if neighborService == nil {
		return errors.New("neighbor service not configured")
	}

	neighbors, err := neighborService.NeighborsOf(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("document %q not found", args[0])
		}
		return fmt.Errorf("failed to compute neighbours: %w", err)
	}

	if neighborsJSON {
		data, err := json.MarshalIndent(neighbors, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal neighbours: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(neighbors) == 0 {
		cmd.Println("No similar documents found.")
		return nil
	}

	cmd.Printf("Documents similar to %s:\n\n", args[0])
	for i, n := range neighbors {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, n.Title, n.Score)
		cmd.Printf("      %s\n", n.DocumentID)
	}
	return nil
}
