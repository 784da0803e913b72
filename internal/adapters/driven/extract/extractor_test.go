package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
)

func TestExtractNormalisesLineEndings(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(context.Background(), "Article 1\r\nPremier alinéa.\rSecond alinéa.")
	require.NoError(t, err)
	assert.Equal(t, "Article 1\nPremier alinéa.\nSecond alinéa.", out)
}

func TestExtractCollapsesBlankRuns(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(context.Background(), "un\n\n\n\n\ndeux")
	require.NoError(t, err)
	assert.Equal(t, "un\n\n\ndeux", out)
}

func TestExtractTrimsTrailingWhitespace(t *testing.T) {
	e := NewExtractor()
	out, err := e.Extract(context.Background(), "ligne  \t\nsuite")
	require.NoError(t, err)
	assert.Equal(t, "ligne\nsuite", out)
}

func TestExtractRejectsInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(context.Background(), string([]byte{0xff, 0xfe}))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrParseUnavailable)
}
