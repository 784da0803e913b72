package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

// buildFilterExpr renders SearchFilters as a RediSearch filter. With no
// filters the expression is "*", matching everything.
func buildFilterExpr(filters domain.SearchFilters) string {
	var parts []string
	if filters.Category != "" {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", fieldCategory, escapeTag(filters.Category)))
	}
	if filters.Domain != "" {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", fieldDomain, escapeTag(filters.Domain)))
	}
	if filters.Language != "" {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", fieldLanguage, escapeTag(filters.Language)))
	}
	if len(filters.DocumentIDs) > 0 {
		escaped := make([]string, len(filters.DocumentIDs))
		for i, id := range filters.DocumentIDs {
			escaped[i] = escapeTag(id)
		}
		parts = append(parts, fmt.Sprintf("@%s:{%s}", fieldDocumentID, strings.Join(escaped, "|")))
	}
	if len(parts) == 0 {
		return "*"
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// escapeTag escapes the characters RediSearch treats as syntax inside a
// TAG filter value.
func escapeTag(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';',
			'!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '-', '+',
			'=', '~', '|', ' ', '/':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeQuery turns free text into a disjunction of quoted terms so user
// input can never inject RediSearch syntax.
func escapeQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return "(" + strings.Join(quoted, "|") + ")"
}

// parseSearchReply decodes an FT.SEARCH reply of the shape
// [count, id1, fields1, id2, fields2, ...] where each fields element is
// a flat key-value list. The hit score is read from the knn_dist field.
func parseSearchReply(reply interface{}) ([]driven.CacheHit, error) {
	rows, err := replyRows(reply, 2)
	if err != nil {
		return nil, err
	}
	hits := make([]driven.CacheHit, 0, len(rows))
	for _, row := range rows {
		hit, err := hitFromFields(row.id, row.fields)
		if err != nil {
			return nil, err
		}
		if raw, ok := row.fields["knn_dist"]; ok {
			hit.Score, _ = strconv.ParseFloat(raw, 64)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// parseSearchReplyWithScores decodes a WITHSCORES reply, where each hit
// is [id, score, fields].
func parseSearchReplyWithScores(reply interface{}) ([]driven.CacheHit, error) {
	rows, err := replyRows(reply, 3)
	if err != nil {
		return nil, err
	}
	hits := make([]driven.CacheHit, 0, len(rows))
	for _, row := range rows {
		hit, err := hitFromFields(row.id, row.fields)
		if err != nil {
			return nil, err
		}
		hit.Score = row.score
		hits = append(hits, hit)
	}
	return hits, nil
}

type replyRow struct {
	id     string
	score  float64
	fields map[string]string
}

// replyRows splits the flat FT.SEARCH array into per-hit rows. stride is
// 2 for [id, fields] replies and 3 for WITHSCORES [id, score, fields].
func replyRows(reply interface{}, stride int) ([]replyRow, error) {
	arr, ok := reply.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("%w: unexpected search reply shape", domain.ErrCacheUnavailable)
	}
	rows := make([]replyRow, 0, (len(arr)-1)/stride)
	for i := 1; i+stride-1 < len(arr); i += stride {
		var row replyRow
		row.id, _ = arr[i].(string)

		fieldsIdx := i + 1
		if stride == 3 {
			rawScore := arr[i+1]
			switch v := rawScore.(type) {
			case string:
				row.score, _ = strconv.ParseFloat(v, 64)
			case float64:
				row.score = v
			case int64:
				row.score = float64(v)
			}
			fieldsIdx = i + 2
		}

		fieldList, ok := arr[fieldsIdx].([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: unexpected field list shape", domain.ErrCacheUnavailable)
		}
		row.fields = make(map[string]string, len(fieldList)/2)
		for j := 0; j+1 < len(fieldList); j += 2 {
			k, _ := fieldList[j].(string)
			v, _ := fieldList[j+1].(string)
			row.fields[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func hitFromFields(key string, fields map[string]string) (driven.CacheHit, error) {
	hit := driven.CacheHit{
		ChunkID:       strings.TrimPrefix(key, chunkKeyPrefix),
		DocumentID:    fields[fieldDocumentID],
		DocumentTitle: fields[fieldTitle],
		ArticleLabel:  fields[fieldArticleLabel],
		Content:       fields[fieldContent],
	}
	if raw, ok := fields[fieldIndexedAt]; ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			hit.IndexedAt = time.Unix(unix, 0).UTC()
		}
	}
	return hit, nil
}
