package chunker

import (
	"regexp"
	"strings"
)

// Article heading patterns for French and Arabic legal texts, anchored to
// line starts. The Arabic pattern matches "الفصل N" (and bare "فصل N"),
// the French one "Article N" with bis/ter suffixes and ranges.
var (
	frArticleRe = regexp.MustCompile(`(?mi)^(?:Article|Art\.?)\s+(\d+(?:\s*[-–]\s*\d+)?(?:\s+(?:bis|ter|quater))?)`)
	arArticleRe = regexp.MustCompile(`(?m)^(?:الفصل|فصل)\s+(\d+(?:\s+مكرر)?)`)
)

// hasDetectableArticles reports whether the text contains at least two
// article headings. A single hit is not enough structure to switch
// strategies over.
func hasDetectableArticles(text string) bool {
	n := len(frArticleRe.FindAllStringIndex(text, 2))
	if n >= 2 {
		return true
	}
	return n+len(arArticleRe.FindAllStringIndex(text, 2)) >= 2
}

// detectArticleOffsets returns the byte offsets of every article heading.
func detectArticleOffsets(text string) []int {
	var offs []int
	for _, m := range frArticleRe.FindAllStringIndex(text, -1) {
		offs = append(offs, m[0])
	}
	for _, m := range arArticleRe.FindAllStringIndex(text, -1) {
		offs = append(offs, m[0])
	}
	return offs
}

// detectArticleLabel extracts the article label from the head of a unit.
func detectArticleLabel(unit string) string {
	head := unit
	if idx := strings.IndexByte(head, '\n'); idx > 0 {
		head = head[:idx]
	}
	if m := frArticleRe.FindStringSubmatch(head); m != nil {
		return "article " + strings.TrimSpace(m[1])
	}
	if m := arArticleRe.FindStringSubmatch(head); m != nil {
		return "الفصل " + strings.TrimSpace(m[1])
	}
	return ""
}
