package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the search cache",
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search cache from the primary store",
	Long: `Re-upserts every indexed document's chunks into the search cache.
Idempotent and safe to run while the engine is serving queries.`,
	Args: cobra.NoArgs,
	RunE: runCacheRebuild,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [document-id]",
	Short: "Evict a document from the caches",
	Long: `Removes a document's chunks from the search cache and drops its
neighbour-cache entries without waiting for TTL expiry.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheInvalidate,
}

func init() {
	cacheCmd.AddCommand(cacheRebuildCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheRebuild(cmd *cobra.Command, _ []string) error {
	if adminService == nil {
		return errors.New("admin service not configured")
	}

	count, err := adminService.RebuildSearchCache(cmd.Context())
	if err != nil {
		if errors.Is(err, domain.ErrCacheUnavailable) {
			return errors.New("search cache is not configured or unreachable")
		}
		return fmt.Errorf("rebuild failed: %w", err)
	}
	cmd.Printf("Rebuilt search cache: %d chunks upserted\n", count)
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	if adminService == nil {
		return errors.New("admin service not configured")
	}

	if err := adminService.InvalidateDocument(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("invalidate failed: %w", err)
	}
	cmd.Printf("Invalidated %s\n", args[0])
	return nil
}
