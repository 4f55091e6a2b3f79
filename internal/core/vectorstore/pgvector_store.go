package vectorstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

//go:embed scripts/initvec.sql
var bootstrapFS embed.FS

const (
	defaultMetric = "cosine"
	maxQueryK     = 100
)

// Store is the Postgres+pgvector implementation of
// core.VectorCollectionStore. It owns its own connection pool, deliberately
// separate from the metadata store's: the two never share a transaction.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

var _ core.VectorCollectionStore = (*Store)(nil)

func NewStore(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("vector store DATABASE_URL is empty")
	}

	pool, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	pool.SetMaxOpenConns(20)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping vector db: %w", err)
	}

	sqlBytes, err := bootstrapFS.ReadFile("scripts/initvec.sql")
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("read initvec.sql: %w", err)
	}
	if _, err := pool.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("bootstrap vector schema: %w", err)
	}

	return &Store{db: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureCollection(ctx context.Context, name string) (*models.CollectionInfo, error) {
	if name == "" {
		return nil, xerr.New(xerr.Validation, "collection name is empty")
	}
	const q = `
		INSERT INTO collections (name, metric)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, q, name, defaultMetric); err != nil {
		return nil, xerr.Wrap(xerr.Storage, "ensure collection", err)
	}
	return s.GetCollectionInfo(ctx, name)
}

// Add writes the batch in one transaction, so a failed write leaves no
// partial state. The collection row is locked for the duration to keep the
// dimension pin race-free against concurrent first writes.
func (s *Store) Add(ctx context.Context, collection string, chunks []models.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	width, err := batchWidth(chunks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return xerr.Wrap(xerr.Storage, "begin add tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		colID int64
		dim   int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, dim FROM collections WHERE name = $1 FOR UPDATE`, collection,
	).Scan(&colID, &dim)
	if err == sql.ErrNoRows {
		return xerr.Newf(xerr.NotFound, "collection not found: %s", collection)
	}
	if err != nil {
		return xerr.Wrap(xerr.Storage, "lock collection", err)
	}

	if dim == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE collections SET dim = $2 WHERE id = $1`, colID, width); err != nil {
			return xerr.Wrap(xerr.Storage, "pin collection dimension", err)
		}
	} else if dim != width {
		return &xerr.DimensionMismatchError{Collection: collection, Want: dim, Got: width}
	}

	const ins = `
		INSERT INTO chunk_records
			(chunk_id, collection_id, doc_id, chunk_index, text, embedding, page_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id) DO UPDATE SET
			collection_id = EXCLUDED.collection_id, text = EXCLUDED.text,
			embedding = EXCLUDED.embedding, page_label = EXCLUDED.page_label
	`
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return xerr.Wrap(xerr.Storage, "prepare chunk insert", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		vec := pgvector.NewVector(ch.Embedding)
		if _, err := stmt.ExecContext(ctx,
			ch.ChunkID, colID, ch.DocID, ch.ChunkIndex, ch.Text, vec, ch.PageLabel,
		); err != nil {
			return xerr.Wrap(xerr.Storage, fmt.Sprintf("insert chunk %s", ch.ChunkID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return xerr.Wrap(xerr.Storage, "commit add", err)
	}
	return nil
}

func (s *Store) DeleteByDocID(ctx context.Context, collection, docID string) (int, error) {
	const q = `
		DELETE FROM chunk_records
		WHERE doc_id = $2
		  AND collection_id = (SELECT id FROM collections WHERE name = $1)
	`
	res, err := s.db.ExecContext(ctx, q, collection, docID)
	if err != nil {
		return 0, xerr.Wrap(xerr.Storage, "delete chunks by doc", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Query(ctx context.Context, collection string, queryVec []float32, k int, filterDocID string) ([]models.ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, xerr.New(xerr.Validation, "empty query vector")
	}
	k = clampK(k)

	colID, _, err := s.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT chunk_id, doc_id, chunk_index, text, page_label, embedding <=> $2 AS distance
		FROM chunk_records
		WHERE collection_id = $1
	`
	args := []any{colID, pgvector.NewVector(queryVec)}
	if filterDocID != "" {
		q += ` AND doc_id = $3`
		args = append(args, filterDocID)
	}
	q += fmt.Sprintf(` ORDER BY distance ASC LIMIT %d`, k)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "query collection", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			hit       models.ScoredChunk
			docID     string
			chunkIdx  int
			pageLabel *string
		)
		if err := rows.Scan(&hit.ChunkID, &docID, &chunkIdx, &hit.Text, &pageLabel, &hit.Distance); err != nil {
			return nil, xerr.Wrap(xerr.Storage, "scan hit", err)
		}
		rec := models.ChunkRecord{DocID: docID, ChunkIndex: chunkIdx, PageLabel: pageLabel}
		hit.Metadata = rec.MetadataTags(collection)
		out = append(out, hit)
	}
	return out, rows.Err()
}

func (s *Store) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	const q = `SELECT name FROM collections ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "list collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, xerr.Wrap(xerr.Storage, "scan collection", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.CollectionInfo, 0, len(names))
	for _, name := range names {
		info, err := s.GetCollectionInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, nil
}

func (s *Store) GetCollectionInfo(ctx context.Context, name string) (*models.CollectionInfo, error) {
	const q = `
		SELECT c.metric, c.dim, c.created_at,
		       COUNT(r.chunk_id), COUNT(DISTINCT r.doc_id)
		FROM collections c
		LEFT JOIN chunk_records r ON r.collection_id = c.id
		WHERE c.name = $1
		GROUP BY c.id
	`
	info := models.CollectionInfo{Name: name}
	err := s.db.QueryRowContext(ctx, q, name).Scan(
		&info.Metric, &info.Dim, &info.CreatedAt, &info.ChunkCount, &info.DocumentCount,
	)
	if err == sql.ErrNoRows {
		return nil, xerr.Newf(xerr.NotFound, "collection not found: %s", name)
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "collection info", err)
	}
	return &info, nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, xerr.Wrap(xerr.Storage, "collection exists", err)
	}
	return exists, nil
}

func (s *Store) RenameCollection(ctx context.Context, oldName, newName string) (*models.CollectionInfo, error) {
	if newName == "" {
		return nil, xerr.New(xerr.Validation, "new collection name is empty")
	}
	taken, err := s.CollectionExists(ctx, newName)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, xerr.Newf(xerr.Validation, "collection already exists: %s", newName)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET name = $2 WHERE name = $1`, oldName, newName)
	if err != nil {
		return nil, xerr.Wrap(xerr.Storage, "rename collection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, xerr.Newf(xerr.NotFound, "collection not found: %s", oldName)
	}
	return s.GetCollectionInfo(ctx, newName)
}

func (s *Store) ResetCollection(ctx context.Context, name string) (int, error) {
	colID, _, err := s.collectionID(ctx, name)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_records WHERE collection_id = $1`, colID)
	if err != nil {
		return 0, xerr.Wrap(xerr.Storage, "reset collection", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteCollection removes the registry row; the chunk rows go with it via
// the ON DELETE CASCADE foreign key, so the drop is a single atomic
// statement. The count beforehand is informational only.
func (s *Store) DeleteCollection(ctx context.Context, name string) (int, error) {
	colID, _, err := s.collectionID(ctx, name)
	if err != nil {
		return 0, err
	}
	var removed int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_records WHERE collection_id = $1`, colID,
	).Scan(&removed)
	if err != nil {
		return 0, xerr.Wrap(xerr.Storage, "count collection chunks", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, colID); err != nil {
		return removed, xerr.Wrap(xerr.Storage, "delete collection", err)
	}
	return removed, nil
}

func (s *Store) collectionID(ctx context.Context, name string) (int64, int, error) {
	var (
		id  int64
		dim int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, dim FROM collections WHERE name = $1`, name,
	).Scan(&id, &dim)
	if err == sql.ErrNoRows {
		return 0, 0, xerr.Newf(xerr.NotFound, "collection not found: %s", name)
	}
	if err != nil {
		return 0, 0, xerr.Wrap(xerr.Storage, "lookup collection", err)
	}
	return id, dim, nil
}

// batchWidth validates that every vector in the batch has the same non-zero
// width and returns it.
func batchWidth(chunks []models.ChunkRecord) (int, error) {
	width := len(chunks[0].Embedding)
	if width == 0 {
		return 0, xerr.New(xerr.Validation, "chunk batch carries an empty embedding")
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != width {
			return 0, xerr.Newf(xerr.Validation,
				"chunk batch mixes embedding widths: %d and %d", width, len(chunks[i].Embedding))
		}
	}
	return width, nil
}

// clampK bounds a similarity query's k to [1, 100].
func clampK(k int) int {
	if k < 1 {
		return 1
	}
	if k > maxQueryK {
		return maxQueryK
	}
	return k
}
