package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
)

type ConfigHandler struct {
	engine core.EmbeddingEngine
	orch   *ingestion_engine.Orchestrator
	log    *zap.Logger
}

func NewConfigHandler(engine core.EmbeddingEngine, orch *ingestion_engine.Orchestrator, log *zap.Logger) *ConfigHandler {
	return &ConfigHandler{engine: engine, orch: orch, log: log}
}

func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	size, overlap := h.orch.ChunkParams()
	writeJSON(w, http.StatusOK, map[string]any{
		"embedding_model": h.engine.Current().Info(),
		"chunk_size":      size,
		"chunk_overlap":   overlap,
	})
}

func (h *ConfigHandler) ListEmbeddingModels(w http.ResponseWriter, r *http.Request) {
	current := h.engine.Current().Info().Key
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  h.engine.List(),
		"current": current,
	})
}

type switchModelRequest struct {
	ModelKey string `json:"model_key"`
}

// SwitchEmbeddingModel installs a new current model. Existing collections
// are never re-embedded; a collection populated under the old model will
// reject new writes with a dimension mismatch if the widths differ.
func (h *ConfigHandler) SwitchEmbeddingModel(w http.ResponseWriter, r *http.Request) {
	var req switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelKey == "" {
		writeError(w, h.log, xerr.New(xerr.Validation, "body must carry a non-empty model_key"))
		return
	}

	info, err := h.engine.Switch(r.Context(), req.ModelKey)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("embedding model switched", zap.String("model", info.Key), zap.Int("dimensions", info.Dimensions))
	writeJSON(w, http.StatusOK, info)
}

type chunkingRequest struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

// UpdateChunking changes the parameters snapshotted onto future
// registrations; already-registered documents keep theirs.
func (h *ConfigHandler) UpdateChunking(w http.ResponseWriter, r *http.Request) {
	var req chunkingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "invalid request body", err))
		return
	}
	if err := h.orch.UpdateChunkParams(req.ChunkSize, req.ChunkOverlap); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunk_size":    req.ChunkSize,
		"chunk_overlap": req.ChunkOverlap,
	})
}
