package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDocumentOffsets(t *testing.T) {
	// 2,500 characters at size=1000 overlap=200 must produce exactly three
	// windows: [0,1000), [800,1800), [1600,2500).
	text := strings.Repeat("x", 2500)

	spans, err := SplitDocument(text, 1000, 200)
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, 0, spans[0].StartOffset)
	assert.Equal(t, 1000, spans[0].EndOffset)
	assert.Equal(t, 800, spans[1].StartOffset)
	assert.Equal(t, 1800, spans[1].EndOffset)
	assert.Equal(t, 1600, spans[2].StartOffset)
	assert.Equal(t, 2500, spans[2].EndOffset)

	for i, s := range spans {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, text[s.StartOffset:s.EndOffset], s.Content)
	}
}

func TestSplitDocumentMultiByte(t *testing.T) {
	// Window boundaries must fall on rune boundaries: byte slicing would
	// cut the three-byte CJK runes mid-sequence and produce chunks
	// Postgres rejects as invalid UTF-8.
	text := strings.Repeat("知识库检索", 200) // 1,000 runes, 3,000 bytes

	spans, err := SplitDocument(text, 600, 100)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	runes := []rune(text)
	for _, s := range spans {
		assert.True(t, utf8.ValidString(s.Content), "chunk %d is not valid UTF-8", s.Index)
		assert.Equal(t, string(runes[s.StartOffset:s.EndOffset]), s.Content)
	}
	assert.Equal(t, 0, spans[0].StartOffset)
	assert.Equal(t, 600, spans[0].EndOffset)
	assert.Equal(t, 500, spans[1].StartOffset)
	assert.Equal(t, 1000, spans[1].EndOffset)

	var sb strings.Builder
	for i, s := range spans {
		content := s.Content
		if i > 0 {
			content = string([]rune(content)[100:])
		}
		sb.WriteString(content)
	}
	assert.Equal(t, text, sb.String())
}

func TestSplitDocumentRoundTrip(t *testing.T) {
	texts := []string{
		"short",
		strings.Repeat("abcdefghij", 137),
		strings.Repeat("z", 1000),
		strings.Repeat("w", 1001),
		strings.Repeat("héllo wörld ", 90),
		strings.Repeat("知识库", 333),
	}
	configs := []struct{ size, overlap int }{
		{1000, 200},
		{100, 0},
		{50, 49},
		{7, 3},
	}

	for _, text := range texts {
		for _, cfg := range configs {
			spans, err := SplitDocument(text, cfg.size, cfg.overlap)
			require.NoError(t, err)

			var sb strings.Builder
			for i, s := range spans {
				content := s.Content
				if i > 0 {
					content = string([]rune(content)[cfg.overlap:])
				}
				sb.WriteString(content)
			}
			assert.Equal(t, text, sb.String(), "size=%d overlap=%d len=%d", cfg.size, cfg.overlap, len(text))
		}
	}
}

func TestSplitDocumentEmpty(t *testing.T) {
	spans, err := SplitDocument("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestSplitDocumentInvalidConfig(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{-1, 0},
		{100, -1},
		{100, 100},
		{100, 150},
	}
	for _, c := range cases {
		_, err := SplitDocument("text", c.size, c.overlap)
		assert.ErrorIs(t, err, ErrChunkConfig, "size=%d overlap=%d", c.size, c.overlap)
	}
}
