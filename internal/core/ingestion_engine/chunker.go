package ingestion_engine

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
)

var _ core.Chunker = (*RecursiveChunker)(nil)

// RecursiveChunker splits extracted segments with langchaingo's recursive
// character splitter. Pure: the splitter is rebuilt per call from the
// requested parameters, so documents registered under different snapshots
// chunk exactly as their snapshot dictates.
type RecursiveChunker struct{}

func NewRecursiveChunker() *RecursiveChunker {
	return &RecursiveChunker{}
}

func (c *RecursiveChunker) Split(segments []core.TextSegment, chunkSize, chunkOverlap int) ([]core.Chunk, error) {
	if chunkSize <= 0 {
		return nil, xerr.New(xerr.Validation, "chunk size must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, xerr.New(xerr.Validation, "chunk overlap must be in [0, chunk size)")
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	var out []core.Chunk
	for _, seg := range segments {
		parts, err := splitter.SplitText(seg.Text)
		if err != nil {
			return nil, xerr.Wrap(xerr.Chunking, "split segment", err)
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			out = append(out, core.Chunk{Text: part, PageLabel: seg.PageLabel})
		}
	}
	return out, nil
}
