package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driving"
)

var (
	ingestID       string
	ingestTitle    string
	ingestCategory string
	ingestDomain   string
	ingestLang     string
	ingestJSON     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the knowledge base",
	Long: `Reads a document from the given file (or stdin when the file is "-"),
chunks and embeds it, and persists it as a new version. Re-ingesting
unchanged content is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document identifier (required)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (required)")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "category: code, jurisprudence, doctrine, modele")
	ingestCmd.Flags().StringVar(&ingestDomain, "domain", "", "legal domain tag")
	ingestCmd.Flags().StringVar(&ingestLang, "lang", "fr", "language code")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output result as JSON")
	_ = ingestCmd.MarkFlagRequired("id")
	_ = ingestCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingestion service not configured")
	}

	text, err := readInput(args[0])
	if err != nil {
		return err
	}

	res, err := ingestService.IngestDocument(cmd.Context(), driving.IngestRequest{
		DocumentID: ingestID,
		Title:      ingestTitle,
		Text:       text,
		Category:   ingestCategory,
		Domain:     ingestDomain,
		Language:   ingestLang,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if ingestJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(data))
		return nil
	}

	if res.Unchanged {
		cmd.Printf("Unchanged: %s is already at version %d\n", ingestID, res.Version)
		return nil
	}
	cmd.Printf("Ingested %s as version %d (quality %.2f, status %s)\n",
		ingestID, res.Version, res.QualityScore, res.Status)
	if res.Status == domain.StatusNeedsReview {
		cmd.Println("Warning: quality below threshold, document withheld for review.")
	}
	return nil
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
