package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

type SearchHandler struct {
	orch *ingestion_engine.Orchestrator
	log  *zap.Logger
}

func NewSearchHandler(orch *ingestion_engine.Orchestrator, log *zap.Logger) *SearchHandler {
	return &SearchHandler{orch: orch, log: log}
}

type searchRequest struct {
	CollectionName string `json:"collection_name"`
	Query          string `json:"query"`
	K              int    `json:"k"`
	DocID          string `json:"doc_id,omitempty"`
}

// Search embeds the query with the current model and runs a similarity
// query against one collection. k is clamped in the store layer.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "invalid request body", err))
		return
	}
	if req.CollectionName == "" {
		writeError(w, h.log, xerr.New(xerr.Validation, "collection_name is required"))
		return
	}
	if req.K == 0 {
		req.K = 5
	}

	hits, err := h.orch.Search(r.Context(), req.CollectionName, req.Query, req.K, req.DocID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if hits == nil {
		hits = []models.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection_name": req.CollectionName,
		"query":           req.Query,
		"results":         hits,
		"count":           len(hits),
	})
}
