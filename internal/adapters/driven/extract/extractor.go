// Package extract normalises producer text before chunking. Format
// parsing (PDF, DOCX) happens upstream with the document producers; this
// adapter only validates and cleans plain text.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

var _ driven.TextExtractor = (*Extractor)(nil)

// Extractor validates UTF-8 and normalises whitespace.
type Extractor struct{}

// NewExtractor creates a plain-text extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract validates the input and returns a normalised copy: CRLF and CR
// become LF, trailing whitespace per line is dropped, and runs of more
// than two blank lines collapse to two. Invalid UTF-8 surfaces
// domain.ErrParseUnavailable so the document is routed to review instead
// of corrupting the index.
func (e *Extractor) Extract(_ context.Context, raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: input is not valid UTF-8", domain.ErrParseUnavailable)
	}

	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
