package core

import (
	"context"

	"github.com/markdave123-py/Ingesta/internal/models"
)

// MetadataStore is the durable table of document records keyed by doc_id.
// It is the source of truth for ingestion status and never touches the
// vector store, so the two failure domains stay separable.
type MetadataStore interface {
	// Upsert replaces the full row; applying the same record twice is a
	// no-op beyond timestamp churn.
	Upsert(ctx context.Context, rec *models.DocumentRecord) error

	// Get returns nil (no error) when doc_id is absent.
	Get(ctx context.Context, docID string) (*models.DocumentRecord, error)

	// List returns records in insertion order, optionally filtered by
	// collection (empty string = all).
	List(ctx context.Context, collectionName string) ([]models.DocumentRecord, error)

	// UpdateStatus partially updates status and error_message. It fails
	// with a NotFound error when the row does not exist.
	UpdateStatus(ctx context.Context, docID string, status models.IngestionStatus, errorMessage *string) error

	// SetCounts records the final chunk and page counts. Written before
	// the COMPLETED transition so a crash in between never shows a
	// COMPLETED row with stale counts.
	SetCounts(ctx context.Context, docID string, totalChunks, totalPages int) error

	// SetCollection moves the row to a new collection name (used when a
	// replace targets a different collection).
	SetCollection(ctx context.Context, docID, collectionName string) error

	// Delete removes the row; absent rows are not an error.
	Delete(ctx context.Context, docID string) error

	Ping(ctx context.Context) error
	Close() error
}

// VectorCollectionStore is CRUD over named collections of
// (id, vector, text, tags) tuples. A collection's dimension is fixed by the
// first batch written into it; later writes of a different width fail with
// *xerr.DimensionMismatchError and leave no partial state behind.
type VectorCollectionStore interface {
	// EnsureCollection get-or-creates a collection, fixing its similarity
	// metric at creation.
	EnsureCollection(ctx context.Context, name string) (*models.CollectionInfo, error)

	// Add inserts a batch of chunks atomically.
	Add(ctx context.Context, collection string, chunks []models.ChunkRecord) error

	// DeleteByDocID removes every chunk tagged with docID and returns how
	// many were removed (0, never an error, when none match).
	DeleteByDocID(ctx context.Context, collection, docID string) (int, error)

	// Query returns up to k hits ascending by distance. k is clamped to
	// [1, 100]. filterDocID, when non-empty, restricts hits to one
	// document.
	Query(ctx context.Context, collection string, queryVec []float32, k int, filterDocID string) ([]models.ScoredChunk, error)

	ListCollections(ctx context.Context) ([]models.CollectionInfo, error)
	GetCollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	RenameCollection(ctx context.Context, oldName, newName string) (*models.CollectionInfo, error)

	// ResetCollection deletes all entries but keeps the collection and its
	// pinned dimension/metric; returns the number of chunks removed.
	ResetCollection(ctx context.Context, name string) (int, error)

	// DeleteCollection drops the collection entirely; returns the number
	// of chunks removed.
	DeleteCollection(ctx context.Context, name string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// TextSegment is one ordered unit of extracted text, usually a page.
type TextSegment struct {
	Text      string
	PageLabel string
}

// PDFExtractor turns a stored PDF into ordered text segments plus a page
// count. An empty segment list signals extraction failure, not an error.
type PDFExtractor interface {
	Extract(ctx context.Context, path string) ([]TextSegment, int, error)
}

// Chunk is one bounded-size slice of extracted text, the unit of embedding
// and storage.
type Chunk struct {
	Text      string
	PageLabel string
}

// Chunker splits extracted segments into overlapping chunks of bounded
// size. Implementations are pure: same input, same output.
type Chunker interface {
	Split(segments []TextSegment, chunkSize, chunkOverlap int) ([]Chunk, error)
}

// EmbeddingProvider maps text to fixed-width vectors.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingHandle is one immutable model binding. In-flight ingestion jobs
// hold the handle they captured at start, so an administrator switch never
// interleaves with a running embed call.
type EmbeddingHandle interface {
	EmbeddingProvider
	Info() models.EmbeddingModelInfo
}

// EmbeddingEngine owns the process-wide current model and swaps it
// copy-on-switch.
type EmbeddingEngine interface {
	Current() EmbeddingHandle
	Switch(ctx context.Context, modelKey string) (models.EmbeddingModelInfo, error)
	List() []models.EmbeddingModelInfo
}

// ObjectClient defines interactions with S3 or any object storage. It's
// abstract so AWS can be replaced with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
}
