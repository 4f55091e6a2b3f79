package ingestion_engine

import (
	"context"
	"os"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
)

var _ core.PDFExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.PDFExtractor using sajari/docconv
// (pdftotext under the hood). pdftotext separates pages with form feeds,
// which is how the page labels on segments are derived.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) Extract(ctx context.Context, path string) ([]core.TextSegment, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xerr.Wrap(xerr.Extraction, "open pdf", err)
	}
	defer f.Close()

	res, err := docconv.Convert(f, "application/pdf", false)
	if err != nil {
		return nil, 0, xerr.Wrap(xerr.Extraction, "convert pdf", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	pages := strings.Split(res.Body, "\f")
	segments := make([]core.TextSegment, 0, len(pages))
	for i, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		segments = append(segments, core.TextSegment{
			Text:      page,
			PageLabel: strconv.Itoa(i + 1),
		})
	}
	return segments, len(pages), nil
}
