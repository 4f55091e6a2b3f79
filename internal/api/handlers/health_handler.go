package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
)

type HealthHandler struct {
	meta    core.MetadataStore
	vectors core.VectorCollectionStore
	log     *zap.Logger
}

func NewHealthHandler(meta core.MetadataStore, vectors core.VectorCollectionStore, log *zap.Logger) *HealthHandler {
	return &HealthHandler{meta: meta, vectors: vectors, log: log}
}

// Health reports liveness plus reachability of both stores. Degraded store
// connectivity answers 503 so load balancers can rotate the instance out.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	metaOK := h.meta.Ping(r.Context()) == nil
	vectorsOK := h.vectors.Ping(r.Context()) == nil

	status := http.StatusOK
	state := "ok"
	if !metaOK || !vectorsOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":         state,
		"metadata_store": metaOK,
		"vector_store":   vectorsOK,
	})
}
