package ingestion_engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
)

func TestSplitRejectsBadParams(t *testing.T) {
	c := NewRecursiveChunker()
	segs := []core.TextSegment{{Text: "hello world", PageLabel: "1"}}

	_, err := c.Split(segs, 0, 0)
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))

	_, err = c.Split(segs, 100, 100)
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))

	_, err = c.Split(segs, 100, -1)
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))
}

func TestSplitShortSegmentIsOneChunk(t *testing.T) {
	c := NewRecursiveChunker()
	chunks, err := c.Split([]core.TextSegment{{Text: "a short page", PageLabel: "1"}}, 700, 300)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short page", chunks[0].Text)
	assert.Equal(t, "1", chunks[0].PageLabel)
}

func TestSplitLongSegmentRespectsChunkSize(t *testing.T) {
	c := NewRecursiveChunker()
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("sentence number five hundred. ")
	}
	chunks, err := c.Split([]core.TextSegment{{Text: b.String(), PageLabel: "7"}}, 500, 100)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 500)
		assert.Equal(t, "7", ch.PageLabel)
	}
}

func TestSplitCarriesPageLabelsAcrossSegments(t *testing.T) {
	c := NewRecursiveChunker()
	segs := []core.TextSegment{
		{Text: "first page text", PageLabel: "1"},
		{Text: "second page text", PageLabel: "2"},
	}
	chunks, err := c.Split(segs, 700, 300)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "1", chunks[0].PageLabel)
	assert.Equal(t, "2", chunks[1].PageLabel)
}

func TestSplitDropsWhitespaceOnlySegments(t *testing.T) {
	c := NewRecursiveChunker()
	chunks, err := c.Split([]core.TextSegment{{Text: "   \n\t  ", PageLabel: "1"}}, 700, 300)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitIsDeterministic(t *testing.T) {
	c := NewRecursiveChunker()
	segs := []core.TextSegment{{Text: strings.Repeat("determinism matters. ", 100), PageLabel: "1"}}
	first, err := c.Split(segs, 300, 50)
	require.NoError(t, err)
	second, err := c.Split(segs, 300, 50)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
