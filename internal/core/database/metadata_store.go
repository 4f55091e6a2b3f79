package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// MetadataStore is the Postgres implementation of core.MetadataStore. It
// owns its own connection pool, independent of the vector store's, so the
// two storage systems can fail independently.
type MetadataStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ core.MetadataStore = (*MetadataStore)(nil)

func NewMetadataStore(ctx context.Context, databaseURL string, log *zap.Logger) (*MetadataStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	pool, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	pool.SetMaxOpenConns(20)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(30 * time.Minute)
	pool.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, pool); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &MetadataStore{db: pool, log: log}, nil
}

func (s *MetadataStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *MetadataStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MetadataStore) Upsert(ctx context.Context, rec *models.DocumentRecord) error {
	if rec == nil {
		return errors.New("nil document record")
	}
	if !rec.Status.Valid() {
		return xerr.Newf(xerr.Validation, "invalid status %q", rec.Status)
	}
	const q = `
		INSERT INTO documents
			(doc_id, filename, collection_name, total_chunks, total_pages, file_size_bytes,
			 embedding_model, chunk_size, chunk_overlap, status, error_message, storage_url,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			 COALESCE($13, now()), COALESCE($14, now()))
		ON CONFLICT (doc_id) DO UPDATE SET
			filename        = EXCLUDED.filename,
			collection_name = EXCLUDED.collection_name,
			total_chunks    = EXCLUDED.total_chunks,
			total_pages     = EXCLUDED.total_pages,
			file_size_bytes = EXCLUDED.file_size_bytes,
			embedding_model = EXCLUDED.embedding_model,
			chunk_size      = EXCLUDED.chunk_size,
			chunk_overlap   = EXCLUDED.chunk_overlap,
			status          = EXCLUDED.status,
			error_message   = EXCLUDED.error_message,
			storage_url     = EXCLUDED.storage_url,
			updated_at      = now()
	`
	_, err := s.db.ExecContext(ctx, q,
		rec.DocID, rec.Filename, rec.CollectionName, rec.TotalChunks, rec.TotalPages,
		rec.FileSizeBytes, rec.EmbeddingModel, rec.ChunkSize, rec.ChunkOverlap,
		string(rec.Status), rec.ErrorMessage, rec.StorageURL,
		nullableTime(rec.CreatedAt), nullableTime(rec.UpdatedAt))
	if err != nil {
		return xerr.Wrap(xerr.Storage, "upsert document", err)
	}
	return nil
}

func (s *MetadataStore) Get(ctx context.Context, docID string) (*models.DocumentRecord, error) {
	const q = `
		SELECT doc_id, filename, collection_name, total_chunks, total_pages, file_size_bytes,
		       embedding_model, chunk_size, chunk_overlap, status, error_message, storage_url,
		       created_at, updated_at
		FROM documents WHERE doc_id = $1
	`
	var rec models.DocumentRecord
	var status string
	err := s.db.QueryRowContext(ctx, q, docID).Scan(
		&rec.DocID, &rec.Filename, &rec.CollectionName, &rec.TotalChunks, &rec.TotalPages,
		&rec.FileSizeBytes, &rec.EmbeddingModel, &rec.ChunkSize, &rec.ChunkOverlap,
		&status, &rec.ErrorMessage, &rec.StorageURL, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "get document", err)
	}
	rec.Status = models.IngestionStatus(status)
	return &rec, nil
}

func (s *MetadataStore) List(ctx context.Context, collectionName string) ([]models.DocumentRecord, error) {
	q := `
		SELECT doc_id, filename, collection_name, total_chunks, total_pages, file_size_bytes,
		       embedding_model, chunk_size, chunk_overlap, status, error_message, storage_url,
		       created_at, updated_at
		FROM documents
	`
	args := []any{}
	if collectionName != "" {
		q += ` WHERE collection_name = $1`
		args = append(args, collectionName)
	}
	q += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "list documents", err)
	}
	defer rows.Close()

	var out []models.DocumentRecord
	for rows.Next() {
		var rec models.DocumentRecord
		var status string
		if err := rows.Scan(
			&rec.DocID, &rec.Filename, &rec.CollectionName, &rec.TotalChunks, &rec.TotalPages,
			&rec.FileSizeBytes, &rec.EmbeddingModel, &rec.ChunkSize, &rec.ChunkOverlap,
			&status, &rec.ErrorMessage, &rec.StorageURL, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, xerr.Wrap(xerr.Storage, "scan document", err)
		}
		rec.Status = models.IngestionStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *MetadataStore) UpdateStatus(ctx context.Context, docID string, status models.IngestionStatus, errorMessage *string) error {
	if !status.Valid() {
		return xerr.Newf(xerr.Validation, "invalid status %q", status)
	}
	const q = `
		UPDATE documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE doc_id = $1
	`
	res, err := s.db.ExecContext(ctx, q, docID, string(status), errorMessage)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "update status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	return nil
}

func (s *MetadataStore) SetCounts(ctx context.Context, docID string, totalChunks, totalPages int) error {
	const q = `
		UPDATE documents
		SET total_chunks = $2, total_pages = $3, updated_at = now()
		WHERE doc_id = $1
	`
	res, err := s.db.ExecContext(ctx, q, docID, totalChunks, totalPages)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "set counts", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	return nil
}

func (s *MetadataStore) SetCollection(ctx context.Context, docID, collectionName string) error {
	const q = `
		UPDATE documents
		SET collection_name = $2, updated_at = now()
		WHERE doc_id = $1
	`
	res, err := s.db.ExecContext(ctx, q, docID, collectionName)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "set collection", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	return nil
}

func (s *MetadataStore) Delete(ctx context.Context, docID string) error {
	const q = `DELETE FROM documents WHERE doc_id = $1`
	if _, err := s.db.ExecContext(ctx, q, docID); err != nil {
		return xerr.Wrap(xerr.Storage, "delete document", err)
	}
	return nil
}

// nullableTime lets the INSERT default a zero timestamp to now().
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
