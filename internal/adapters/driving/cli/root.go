// Package cli implements the kbengine command-line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services injected by main before Execute runs.
var (
	ingestService   driving.Ingestor
	searchService   driving.Searcher
	neighborService driving.NeighborService
	adminService    driving.Admin
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "kbengine",
	Short: "Legal knowledge-base retrieval engine",
	Long: `kbengine ingests legal documents into a versioned knowledge base and
serves hybrid (semantic + lexical) retrieval over them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetServices injects the use-case entry points. Called by main after
// wiring; commands fail gracefully when their service is absent.
func SetServices(ingest driving.Ingestor, search driving.Searcher, neighbors driving.NeighborService, admin driving.Admin) {
	ingestService = ingest
	searchService = search
	neighborService = neighbors
	adminService = admin
}

// Execute runs the root command under ctx; commands read it via
// cmd.Context() so Ctrl-C propagates cancellation.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
