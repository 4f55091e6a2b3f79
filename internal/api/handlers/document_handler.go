package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Ingesta/internal/config"
	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

const maxUploadBytes = 52 << 20

type DocumentHandler struct {
	meta    core.MetadataStore
	orch    *ingestion_engine.Orchestrator
	files   *ingestion_engine.FileManager
	archive core.ObjectClient
	cfg     *config.Config
	log     *zap.Logger
}

func NewDocumentHandler(meta core.MetadataStore, orch *ingestion_engine.Orchestrator, files *ingestion_engine.FileManager, archive core.ObjectClient, cfg *config.Config, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{meta: meta, orch: orch, files: files, archive: archive, cfg: cfg, log: log}
}

type uploadResult struct {
	DocID      string `json:"doc_id"`
	Filename   string `json:"filename"`
	Collection string `json:"collection_name"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// UploadDocument accepts one PDF, registers it and schedules background
// processing. The response is an acceptance, not a completion; callers poll
// the status endpoint.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "invalid multipart form", err))
		return
	}

	collection := r.FormValue("collection_name")
	if collection == "" {
		collection = h.cfg.DefaultCollection
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "missing file field", err))
		return
	}
	defer file.Close()

	res, err := h.acceptUpload(r, header.Filename, file, collection)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// BatchUploadDocuments accepts several PDFs under the "files" field and
// registers them concurrently, reporting per-file outcomes.
func (h *DocumentHandler) BatchUploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes*4)
	if err := r.ParseMultipartForm(maxUploadBytes * 4); err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "invalid multipart form", err))
		return
	}

	collection := r.FormValue("collection_name")
	if collection == "" {
		collection = h.cfg.DefaultCollection
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, h.log, xerr.New(xerr.Validation, "no files provided"))
		return
	}

	var (
		mu       sync.Mutex
		results  []uploadResult
		accepted int
	)
	g, _ := errgroup.WithContext(r.Context())
	g.SetLimit(4)
	for _, hdr := range headers {
		hdr := hdr
		g.Go(func() error {
			f, err := hdr.Open()
			if err != nil {
				mu.Lock()
				results = append(results, uploadResult{Filename: hdr.Filename, Status: "rejected", Message: err.Error()})
				mu.Unlock()
				return nil
			}
			defer f.Close()

			res, err := h.acceptUpload(r, hdr.Filename, f, collection)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results = append(results, uploadResult{Filename: hdr.Filename, Status: "rejected", Message: err.Error()})
				return nil
			}
			accepted++
			results = append(results, *res)
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"rejected": len(results) - accepted,
		"results":  results,
	})
}

// acceptUpload runs the synchronous half of ingestion: validate, save,
// optionally archive, register, schedule.
func (h *DocumentHandler) acceptUpload(r *http.Request, filename string, file multipart.File, collection string) (*uploadResult, error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerr.Wrap(xerr.Validation, "read upload", err)
	}
	if ok, reason := h.files.Validate(filename, content); !ok {
		return nil, xerr.New(xerr.Validation, reason)
	}

	docID := h.files.GenerateDocID()
	path, err := h.files.Save(content, filename, docID)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "save upload", err)
	}

	var storageURL *string
	if h.archive != nil {
		key := fmt.Sprintf("originals/%s/%s", docID, filepath.Base(filename))
		url, err := h.archive.UploadFile(r.Context(), h.cfg.BucketName, key, content, "application/pdf")
		if err != nil {
			h.log.Warn("archive upload failed", zap.String("doc_id", docID), zap.Error(err))
		} else {
			storageURL = &url
		}
	}

	if _, err := h.orch.Register(r.Context(), docID, filename, collection, int64(len(content)), storageURL); err != nil {
		_ = h.files.Delete(path)
		return nil, err
	}
	if err := h.orch.Submit(docID, path, collection); err != nil {
		return nil, err
	}

	return &uploadResult{
		DocID:      docID,
		Filename:   filename,
		Collection: collection,
		Status:     string(models.StatusPending),
		Message:    "Document accepted for processing",
	}, nil
}

// ReplaceDocument swaps a document's content: its old vectors are removed
// and the new file is processed under the same doc_id.
func (h *DocumentHandler) ReplaceDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "invalid multipart form", err))
		return
	}

	collection := r.FormValue("collection_name")
	if collection == "" {
		collection = h.cfg.DefaultCollection
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "missing file field", err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Validation, "read upload", err))
		return
	}
	if ok, reason := h.files.Validate(header.Filename, content); !ok {
		writeError(w, h.log, xerr.New(xerr.Validation, reason))
		return
	}

	path, err := h.files.Save(content, header.Filename, docID)
	if err != nil {
		writeError(w, h.log, xerr.Wrap(xerr.Storage, "save upload", err))
		return
	}

	if err := h.orch.SubmitReplace(r.Context(), docID, header.Filename, int64(len(content)), path, collection); err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResult{
		DocID:      docID,
		Filename:   header.Filename,
		Collection: collection,
		Status:     string(models.StatusPending),
		Message:    "Replacement accepted for processing",
	})
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	records, err := h.meta.List(r.Context(), r.URL.Query().Get("collection_name"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if records == nil {
		records = []models.DocumentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": records, "count": len(records)})
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	rec, err := h.meta.Get(r.Context(), docID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if rec == nil {
		writeError(w, h.log, xerr.Newf(xerr.NotFound, "document not found: %s", docID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetDocumentStatus is the lightweight polling endpoint for background
// outcome visibility.
func (h *DocumentHandler) GetDocumentStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	rec, err := h.meta.Get(r.Context(), docID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if rec == nil {
		writeError(w, h.log, xerr.Newf(xerr.NotFound, "document not found: %s", docID))
		return
	}
	writeJSON(w, http.StatusOK, rec.StatusView())
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	removed, err := h.orch.Delete(r.Context(), docID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "chunks_removed": removed})
}

// GetDocumentChunks previews up to `limit` stored chunks for a document.
func (h *DocumentHandler) GetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	rec, err := h.meta.Get(r.Context(), docID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if rec == nil {
		writeError(w, h.log, xerr.Newf(xerr.NotFound, "document not found: %s", docID))
		return
	}

	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.log, xerr.New(xerr.Validation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	chunks, err := h.orch.SampleChunks(r.Context(), docID, rec.CollectionName, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if chunks == nil {
		chunks = []models.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "chunks": chunks, "count": len(chunks)})
}
