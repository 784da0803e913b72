package driven

import "context"

// TextExtractor normalises raw producer text before it reaches the
// chunker. Heavy format parsing (PDF, DOCX) lives with the document
// producers; the core only validates and normalises. Initialised once at
// process start, never lazily.
type TextExtractor interface {
	// Extract validates UTF-8, normalises line endings and collapses
	// redundant whitespace. Malformed input surfaces
	// domain.ErrParseUnavailable; it is never passed to the chunker.
	Extract(ctx context.Context, raw string) (string, error)
}
