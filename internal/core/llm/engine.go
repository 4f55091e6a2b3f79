package llm

import (
	"context"
	"sync/atomic"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// availableModels is the embedding model catalog. A switch changes which
// entry serves new calls; it never re-embeds existing collections, so two
// documents in one collection may carry vectors from different entries.
var availableModels = []models.EmbeddingModelInfo{
	{
		Key:         "text-embedding-004",
		ModelName:   "text-embedding-004",
		Dimensions:  768,
		Description: "Good balance of quality and speed. Recommended default.",
	},
	{
		Key:         "embedding-001",
		ModelName:   "embedding-001",
		Dimensions:  768,
		Description: "Previous generation, kept for already-ingested collections.",
	},
	{
		Key:         "gemini-embedding-001",
		ModelName:   "gemini-embedding-001",
		Dimensions:  3072,
		Description: "Highest quality, larger vectors, slower.",
	},
}

// ModelInfo looks a catalog entry up by key.
func ModelInfo(key string) (models.EmbeddingModelInfo, bool) {
	for _, m := range availableModels {
		if m.Key == key {
			return m, true
		}
	}
	return models.EmbeddingModelInfo{}, false
}

// ProviderFactory builds a provider bound to one concrete model name.
type ProviderFactory func(ctx context.Context, modelName string) (core.EmbeddingProvider, error)

// handle is one immutable (model, provider) binding.
type handle struct {
	info     models.EmbeddingModelInfo
	provider core.EmbeddingProvider
}

func (h *handle) Info() models.EmbeddingModelInfo { return h.info }

func (h *handle) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return h.provider.EmbedTexts(ctx, texts)
}

func (h *handle) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.provider.EmbedQuery(ctx, text)
}

// Engine owns the process-wide current embedding model. Switch installs a
// fresh handle; callers that captured the old handle keep using it until
// their call completes (copy-on-switch, no stop-the-world).
type Engine struct {
	factory ProviderFactory
	current atomic.Pointer[handle]
}

var _ core.EmbeddingEngine = (*Engine)(nil)

func NewEngine(ctx context.Context, factory ProviderFactory, initialKey string) (*Engine, error) {
	e := &Engine{factory: factory}
	if _, err := e.Switch(ctx, initialKey); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) Current() core.EmbeddingHandle {
	return e.current.Load()
}

func (e *Engine) Switch(ctx context.Context, modelKey string) (models.EmbeddingModelInfo, error) {
	info, ok := ModelInfo(modelKey)
	if !ok {
		return models.EmbeddingModelInfo{}, xerr.Newf(xerr.NotFound, "unknown embedding model: %s", modelKey)
	}
	provider, err := e.factory(ctx, info.ModelName)
	if err != nil {
		return models.EmbeddingModelInfo{}, xerr.Wrap(xerr.Embedding, "initialize embedding model", err)
	}
	e.current.Store(&handle{info: info, provider: provider})
	return info, nil
}

func (e *Engine) List() []models.EmbeddingModelInfo {
	out := make([]models.EmbeddingModelInfo, len(availableModels))
	copy(out, availableModels)
	return out
}
