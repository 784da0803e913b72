// Package chunker splits normalised document text into overlapping
// retrieval units. Chunking is a pure function of its input: re-chunking
// unchanged text always yields byte-identical boundaries.
package chunker

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// Piece is one chunk boundary produced by the chunker. Content is always
// the exact substring text[Start:End]; consecutive pieces overlap so that
// concatenating contents while discarding the overlapped prefix of each
// piece reconstructs the input exactly.
type Piece struct {
	// Seq is the ordinal position, contiguous from 0.
	Seq int

	// Start and End are byte offsets into the input text.
	Start int
	End   int

	// Content is text[Start:End].
	Content string

	// ArticleLabel is set when the piece belongs to a detected article.
	ArticleLabel string
}

// token is a whitespace-delimited run with its byte offsets.
type token struct {
	start int
	end   int
}

// Chunker selects and applies a chunking strategy per document category.
type Chunker struct {
	cfg config.Chunking
}

// New creates a chunker with the given sizing configuration.
func New(cfg config.Chunking) *Chunker {
	return &Chunker{cfg: cfg}
}

// categories whose documents expose numbered articles worth one chunk each.
var articleCategories = map[string]bool{
	"code":         true,
	"codes":        true,
	"legislation":  true,
	"constitution": true,
}

// Chunk splits text for the given category. It never fails on well-formed
// UTF-8; malformed input is the caller's problem and is rejected with
// domain.ErrInvalidInput before any strategy runs.
func (c *Chunker) Chunk(text, category string, hints domain.StructureHints) ([]Piece, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	useArticles := articleCategories[strings.ToLower(category)] &&
		(hints.HasArticles || len(hints.ArticleOffsets) > 0 || hasDetectableArticles(text))

	if useArticles {
		pieces := c.chunkByArticles(text, category, hints)
		if len(pieces) > 0 {
			logger.Debug("Chunker: article strategy produced %d pieces (category=%s)", len(pieces), category)
			return pieces, nil
		}
		logger.Debug("Chunker: no articles detected, falling back to adaptive strategy")
	}

	overlap := c.cfg.OverlapFor(strings.ToLower(category))
	pieces := c.slidingWindow(text, 0, len(text), overlap, "")
	logger.Debug("Chunker: adaptive strategy produced %d pieces (category=%s, overlap=%d tokens)",
		len(pieces), category, overlap)
	return renumber(pieces), nil
}

// slidingWindow chunks text[lo:hi] by token windows of TargetSize with
// the given token overlap. The returned pieces jointly cover [lo,hi).
func (c *Chunker) slidingWindow(text string, lo, hi, overlap int, label string) []Piece {
	toks := tokenize(text[lo:hi])
	if len(toks) == 0 {
		return nil
	}

	// A short segment is exactly one piece. MinSize is a floor for
	// splitting, never a reason to drop content.
	if len(toks) <= c.cfg.TargetSize || len(toks) <= c.cfg.MinSize {
		return []Piece{{
			Start:        lo,
			End:          hi,
			Content:      text[lo:hi],
			ArticleLabel: label,
		}}
	}

	step := c.cfg.TargetSize - overlap
	if step <= 0 {
		step = c.cfg.TargetSize
	}

	var pieces []Piece
	for first := 0; first < len(toks); first += step {
		last := first + c.cfg.TargetSize
		if last > len(toks) {
			last = len(toks)
		}

		start := lo + toks[first].start
		end := lo + toks[last-1].end
		if len(pieces) == 0 {
			start = lo
		} else if prev := pieces[len(pieces)-1].End; start > prev {
			// Zero-overlap windows abut on token boundaries; pull the
			// piece back so the whitespace between windows stays covered.
			start = prev
		}
		if last == len(toks) {
			end = hi
		}

		pieces = append(pieces, Piece{
			Start:        start,
			End:          end,
			Content:      text[start:end],
			ArticleLabel: label,
		})

		if last == len(toks) {
			break
		}
	}
	return pieces
}

// chunkByArticles produces one piece per article, recursively splitting
// articles that exceed MaxSize tokens. Article boundaries never overlap.
func (c *Chunker) chunkByArticles(text, category string, hints domain.StructureHints) []Piece {
	offsets := hints.ArticleOffsets
	if len(offsets) == 0 {
		offsets = detectArticleOffsets(text)
	}
	if len(offsets) == 0 {
		return nil
	}

	sort.Ints(offsets)
	overlap := c.cfg.OverlapFor(strings.ToLower(category))

	var pieces []Piece

	// Preamble before the first article, if any.
	if offsets[0] > 0 && strings.TrimSpace(text[:offsets[0]]) != "" {
		pieces = append(pieces, c.slidingWindow(text, 0, offsets[0], overlap, "")...)
	}

	for i, off := range offsets {
		end := len(text)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if off >= end {
			continue
		}

		label := detectArticleLabel(text[off:end])
		if label == "" {
			label = fmt.Sprintf("article %d", i+1)
		}

		unit := tokenize(text[off:end])
		if len(unit) > c.cfg.MaxSize {
			// Oversized article: split within the unit, keeping the label.
			pieces = append(pieces, c.slidingWindow(text, off, end, overlap, label)...)
			continue
		}
		pieces = append(pieces, Piece{
			Start:        off,
			End:          end,
			Content:      text[off:end],
			ArticleLabel: label,
		})
	}

	return renumber(pieces)
}

// tokenize returns whitespace-delimited tokens with byte offsets.
func tokenize(text string) []token {
	var toks []token
	inTok := false
	start := 0
	for i, r := range text {
		switch {
		case isSpace(r) && inTok:
			toks = append(toks, token{start: start, end: i})
			inTok = false
		case !isSpace(r) && !inTok:
			start = i
			inTok = true
		}
	}
	if inTok {
		toks = append(toks, token{start: start, end: len(text)})
	}
	return toks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func renumber(pieces []Piece) []Piece {
	for i := range pieces {
		pieces[i].Seq = i
	}
	return pieces
}
