package models

import (
	"strconv"
	"time"
)

// IngestionStatus is the lifecycle state of a document in the metadata store.
type IngestionStatus string

const (
	StatusPending    IngestionStatus = "PENDING"
	StatusProcessing IngestionStatus = "PROCESSING"
	StatusCompleted  IngestionStatus = "COMPLETED"
	StatusFailed     IngestionStatus = "FAILED"
)

// Valid reports whether s is one of the four known states.
func (s IngestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DocumentRecord is one row of the metadata store, keyed by DocID.
//
// EmbeddingModel, ChunkSize and ChunkOverlap are a snapshot of the
// configuration in effect at registration time and are never retroactively
// updated when the global configuration changes.
type DocumentRecord struct {
	DocID          string          `db:"doc_id" json:"doc_id"`
	Filename       string          `db:"filename" json:"filename"`
	CollectionName string          `db:"collection_name" json:"collection_name"`
	TotalChunks    int             `db:"total_chunks" json:"total_chunks"`
	TotalPages     int             `db:"total_pages" json:"total_pages"`
	FileSizeBytes  int64           `db:"file_size_bytes" json:"file_size_bytes"`
	EmbeddingModel string          `db:"embedding_model" json:"embedding_model"`
	ChunkSize      int             `db:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int             `db:"chunk_overlap" json:"chunk_overlap"`
	Status         IngestionStatus `db:"status" json:"status"`
	ErrorMessage   *string         `db:"error_message" json:"error_message,omitempty"`
	StorageURL     *string         `db:"storage_url" json:"storage_url,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// DocumentStatusView is the lightweight status-only projection of a record.
type DocumentStatusView struct {
	DocID        string          `json:"doc_id"`
	Status       IngestionStatus `json:"status"`
	TotalChunks  int             `json:"total_chunks"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StatusView projects a record down to its status fields.
func (r *DocumentRecord) StatusView() DocumentStatusView {
	return DocumentStatusView{
		DocID:        r.DocID,
		Status:       r.Status,
		TotalChunks:  r.TotalChunks,
		ErrorMessage: r.ErrorMessage,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ChunkRecord is one vector entry owned by the vector store. ChunkID is
// derived deterministically as "{doc_id}_chunk_{index}"; chunks are written
// in a single batch and never individually mutated.
type ChunkRecord struct {
	ChunkID    string    `json:"chunk_id"`
	DocID      string    `json:"doc_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	PageLabel  *string   `json:"page_label,omitempty"`
}

// MetadataTags flattens the chunk's identifying fields into the tag map stored
// alongside the vector. doc_id, chunk_index and collection_name are always
// present; page_label only when the extractor produced one.
func (c *ChunkRecord) MetadataTags(collectionName string) map[string]string {
	m := map[string]string{
		"doc_id":          c.DocID,
		"chunk_index":     strconv.Itoa(c.ChunkIndex),
		"collection_name": collectionName,
	}
	if c.PageLabel != nil {
		m["page_label"] = *c.PageLabel
	}
	return m
}

// ScoredChunk is one ranked similarity-search hit, ascending by Distance.
type ScoredChunk struct {
	ChunkID  string            `json:"chunk_id"`
	Text     string            `json:"document_text"`
	Metadata map[string]string `json:"metadata"`
	Distance float64           `json:"distance"`
}

// CollectionInfo describes a named vector collection and its fixed
// similarity configuration. Dim is 0 until the first batch write pins it.
type CollectionInfo struct {
	Name          string    `json:"name"`
	Metric        string    `json:"metric"`
	Dim           int       `json:"dim"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmbeddingModelInfo describes one entry of the embedding model catalog.
type EmbeddingModelInfo struct {
	Key         string `json:"key"`
	ModelName   string `json:"model_name"`
	Dimensions  int    `json:"dimensions"`
	Description string `json:"description"`
}
