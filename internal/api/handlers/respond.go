package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core/xerr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses. Dimension
// mismatches get 409 with the full remediation message; everything
// unclassified is a 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	if _, ok := xerr.IsDimensionMismatch(err); ok {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "dimension_mismatch"})
		return
	}

	kind := xerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case xerr.Validation:
		status = http.StatusBadRequest
	case xerr.NotFound:
		status = http.StatusNotFound
	case xerr.Extraction, xerr.Chunking, xerr.Embedding:
		status = http.StatusUnprocessableEntity
	case xerr.Storage:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	}

	body := errorBody{Error: err.Error()}
	if kind != 0 {
		body.Kind = kind.String()
	}
	writeJSON(w, status, body)
}
