package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

type CollectionHandler struct {
	vectors core.VectorCollectionStore
	meta    core.MetadataStore
	log     *zap.Logger
}

func NewCollectionHandler(vectors core.VectorCollectionStore, meta core.MetadataStore, log *zap.Logger) *CollectionHandler {
	return &CollectionHandler{vectors: vectors, meta: meta, log: log}
}

func (h *CollectionHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.vectors.ListCollections(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if infos == nil {
		infos = []models.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": infos, "count": len(infos)})
}

type createCollectionRequest struct {
	Name string `json:"name"`
}

func (h *CollectionHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, h.log, xerr.New(xerr.Validation, "body must carry a non-empty collection name"))
		return
	}

	info, err := h.vectors.EnsureCollection(r.Context(), req.Name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *CollectionHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := h.vectors.GetCollectionInfo(r.Context(), name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type renameCollectionRequest struct {
	NewName string `json:"new_name"`
}

// RenameCollection renames the registry entry; chunk rows follow via the
// collection id, and document rows are repointed at the new name.
func (h *CollectionHandler) RenameCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req renameCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewName == "" {
		writeError(w, h.log, xerr.New(xerr.Validation, "body must carry a non-empty new_name"))
		return
	}

	info, err := h.vectors.RenameCollection(r.Context(), name, req.NewName)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	records, err := h.meta.List(r.Context(), name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	moved := 0
	for _, rec := range records {
		if err := h.meta.SetCollection(r.Context(), rec.DocID, req.NewName); err != nil {
			h.log.Warn("repoint document after rename failed",
				zap.String("doc_id", rec.DocID), zap.Error(err))
			continue
		}
		moved++
	}

	writeJSON(w, http.StatusOK, map[string]any{"collection": info, "documents_moved": moved})
}

// ResetCollection deletes all chunks but keeps the collection and its
// pinned dimension and metric.
func (h *CollectionHandler) ResetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := h.vectors.ResetCollection(r.Context(), name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	docs, err := h.documentCount(r, name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection":         name,
		"chunks_removed":     removed,
		"documents_affected": docs,
	})
}

func (h *CollectionHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	docs, err := h.documentCount(r, name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	removed, err := h.vectors.DeleteCollection(r.Context(), name)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection":         name,
		"chunks_removed":     removed,
		"documents_affected": docs,
	})
}

func (h *CollectionHandler) documentCount(r *http.Request, collection string) (int, error) {
	records, err := h.meta.List(r.Context(), collection)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
