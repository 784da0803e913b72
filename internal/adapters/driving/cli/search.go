package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

var (
	searchLimit    int
	searchMinScore float64
	searchCategory string
	searchDomain   string
	searchLang     string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge base",
	Long: `Performs hybrid search over indexed documents, combining semantic
(vector) similarity with lexical relevance.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 = configured default)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results scoring below this")
	searchCmd.Flags().StringVar(&searchCategory, "category", "", "restrict to one category")
	searchCmd.Flags().StringVar(&searchDomain, "domain", "", "restrict to one legal domain")
	searchCmd.Flags().StringVar(&searchLang, "lang", "", "restrict to one language")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	filters := domain.SearchFilters{
		Category: searchCategory,
		Domain:   searchDomain,
		Language: searchLang,
	}
	resp, err := searchService.Search(cmd.Context(), args[0], filters, searchLimit, searchMinScore)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	return outputSearchTable(cmd, resp)
}

func outputSearchTable(cmd *cobra.Command, resp *domain.SearchResponse) error {
	if resp.Degraded {
		cmd.Println("Note: served from the primary store (cache unavailable); results may lag.")
		cmd.Println()
	}
	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, r := range resp.Results {
		cmd.Printf("  [%d] %s (%.2f)\n", i+1, r.DocumentTitle, r.Score)
		if r.ArticleLabel != "" {
			cmd.Printf("      %s\n", r.ArticleLabel)
		}
		cmd.Printf("      %s\n", snippet(r.Content, 160))
		cmd.Println()
	}
	return nil
}

// snippet truncates text at a rune boundary.
func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
