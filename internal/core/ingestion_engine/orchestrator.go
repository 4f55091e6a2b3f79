package ingestion_engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// processTimeout bounds one background ingestion run, independent of the
// request context that triggered it.
const processTimeout = 5 * time.Minute

// Orchestrator drives a document through
// PENDING -> PROCESSING -> COMPLETED/FAILED and keeps the metadata store
// and the vector store in agreement on every mutating operation. The two
// stores share no transaction: consistency comes from step ordering
// (vectors before metadata on delete, counts before COMPLETED on success)
// plus compensating deletes on failure.
type Orchestrator struct {
	meta      core.MetadataStore
	vectors   core.VectorCollectionStore
	extractor core.PDFExtractor
	chunker   core.Chunker
	engine    core.EmbeddingEngine
	files     *FileManager
	log       *zap.Logger

	// Optional original-file archive.
	archive core.ObjectClient
	bucket  string

	pool *ants.Pool

	// Chunking parameters snapshotted onto new registrations.
	paramsMu     sync.RWMutex
	chunkSize    int
	chunkOverlap int

	// At most one in-flight process/replace per doc_id; a second
	// submission while one is running is rejected, never interleaved.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchive enables S3 archival bookkeeping for document deletion.
func WithArchive(client core.ObjectClient, bucket string) Option {
	return func(o *Orchestrator) {
		o.archive = client
		o.bucket = bucket
	}
}

// WithChunkParams sets the initial chunk size/overlap snapshot source.
func WithChunkParams(size, overlap int) Option {
	return func(o *Orchestrator) {
		o.chunkSize = size
		o.chunkOverlap = overlap
	}
}

func NewOrchestrator(
	meta core.MetadataStore,
	vectors core.VectorCollectionStore,
	extractor core.PDFExtractor,
	chunker core.Chunker,
	engine core.EmbeddingEngine,
	files *FileManager,
	workers int,
	log *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	o := &Orchestrator{
		meta:         meta,
		vectors:      vectors,
		extractor:    extractor,
		chunker:      chunker,
		engine:       engine,
		files:        files,
		log:          log,
		pool:         pool,
		chunkSize:    700,
		chunkOverlap: 300,
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Close releases the worker pool. Jobs already running finish on their own
// timeout.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

// ChunkParams returns the chunking configuration new registrations snapshot.
func (o *Orchestrator) ChunkParams() (size, overlap int) {
	o.paramsMu.RLock()
	defer o.paramsMu.RUnlock()
	return o.chunkSize, o.chunkOverlap
}

// UpdateChunkParams changes the configuration for future registrations
// only; already-registered documents keep their snapshot.
func (o *Orchestrator) UpdateChunkParams(size, overlap int) error {
	if size <= 0 {
		return xerr.New(xerr.Validation, "chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return xerr.New(xerr.Validation, "chunk overlap must be in [0, chunk size)")
	}
	o.paramsMu.Lock()
	defer o.paramsMu.Unlock()
	o.chunkSize = size
	o.chunkOverlap = overlap
	return nil
}

// Register creates the PENDING metadata row with a snapshot of the current
// chunking/embedding configuration. Synchronous: no I/O beyond the
// metadata store, so the caller can immediately report acceptance.
func (o *Orchestrator) Register(ctx context.Context, docID, filename, collectionName string, fileSizeBytes int64, storageURL *string) (*models.DocumentRecord, error) {
	if docID == "" || filename == "" || collectionName == "" {
		return nil, xerr.New(xerr.Validation, "doc id, filename and collection are required")
	}
	size, overlap := o.ChunkParams()
	rec := &models.DocumentRecord{
		DocID:          docID,
		Filename:       filename,
		CollectionName: collectionName,
		FileSizeBytes:  fileSizeBytes,
		EmbeddingModel: o.engine.Current().Info().Key,
		ChunkSize:      size,
		ChunkOverlap:   overlap,
		Status:         models.StatusPending,
		StorageURL:     storageURL,
	}
	if err := o.meta.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Submit hands a registered document to the background pool. A document
// already in flight is rejected; the saved upload is removed on any
// rejection since the caller cannot reuse it.
func (o *Orchestrator) Submit(docID, filePath, collectionName string) error {
	if !o.acquire(docID) {
		_ = o.files.Delete(filePath)
		return xerr.Newf(xerr.Validation, "document is already being processed: %s", docID)
	}
	err := o.pool.Submit(func() {
		defer o.release(docID)
		o.runProcess(docID, filePath, collectionName)
	})
	if err != nil {
		o.release(docID)
		_ = o.files.Delete(filePath)
		return xerr.Wrap(xerr.Storage, "submit ingestion job", err)
	}
	return nil
}

// SubmitReplace schedules a replacement run: the document's existing
// vectors are deleted from its current collection, the row is re-registered
// PENDING with a fresh configuration snapshot, then processing runs as
// usual. Unknown doc ids are rejected synchronously.
func (o *Orchestrator) SubmitReplace(ctx context.Context, docID, filename string, fileSizeBytes int64, filePath, collectionName string) error {
	rec, err := o.meta.Get(ctx, docID)
	if err != nil {
		_ = o.files.Delete(filePath)
		return err
	}
	if rec == nil {
		_ = o.files.Delete(filePath)
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	oldCollection := rec.CollectionName
	storageURL := rec.StorageURL

	if !o.acquire(docID) {
		_ = o.files.Delete(filePath)
		return xerr.Newf(xerr.Validation, "document is already being processed: %s", docID)
	}
	err = o.pool.Submit(func() {
		defer o.release(docID)
		o.runReplace(docID, filename, fileSizeBytes, filePath, collectionName, oldCollection, storageURL)
	})
	if err != nil {
		o.release(docID)
		_ = o.files.Delete(filePath)
		return xerr.Wrap(xerr.Storage, "submit replace job", err)
	}
	return nil
}

// Delete removes a document: vectors first, then the metadata row, so a
// crash in between leaves a re-deletable orphaned row rather than orphaned
// vectors nothing can identify. Returns the number of chunks removed.
func (o *Orchestrator) Delete(ctx context.Context, docID string) (int, error) {
	rec, err := o.meta.Get(ctx, docID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}

	removed, err := o.vectors.DeleteByDocID(ctx, rec.CollectionName, docID)
	if err != nil {
		return 0, err
	}

	if o.archive != nil && rec.StorageURL != nil {
		bucket, key := parseS3URL(*rec.StorageURL)
		if bucket == "" {
			bucket = o.bucket
		}
		if err := o.archive.DeleteFile(ctx, bucket, key); err != nil {
			o.log.Warn("archive delete failed",
				zap.String("doc_id", docID), zap.String("key", key), zap.Error(err))
		}
	}

	if err := o.meta.Delete(ctx, docID); err != nil {
		return removed, err
	}
	return removed, nil
}

// SampleChunks is a read-only preview: it queries the vector store filtered
// by doc_id with an arbitrary probe embedding. Never used for
// correctness-critical logic.
func (o *Orchestrator) SampleChunks(ctx context.Context, docID, collectionName string, limit int) ([]models.ScoredChunk, error) {
	probe, err := o.engine.Current().EmbedQuery(ctx, "sample")
	if err != nil {
		return nil, xerr.Wrap(xerr.Embedding, "probe embedding", err)
	}
	return o.vectors.Query(ctx, collectionName, probe, limit, docID)
}

// Search embeds the query text with the current model and runs a
// similarity query against one collection.
func (o *Orchestrator) Search(ctx context.Context, collectionName, query string, k int, filterDocID string) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, xerr.New(xerr.Validation, "query text is empty")
	}
	vec, err := o.engine.Current().EmbedQuery(ctx, query)
	if err != nil {
		return nil, xerr.Wrap(xerr.Embedding, "embed query", err)
	}
	return o.vectors.Query(ctx, collectionName, vec, k, filterDocID)
}

func (o *Orchestrator) acquire(docID string) bool {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, busy := o.inflight[docID]; busy {
		return false
	}
	o.inflight[docID] = struct{}{}
	return true
}

func (o *Orchestrator) release(docID string) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	delete(o.inflight, docID)
}

// runProcess executes one ingestion attempt. Failures are trapped and
// recorded on the row; they never propagate, because the caller already
// reported acceptance. The uploaded file is removed no matter the outcome.
func (o *Orchestrator) runProcess(docID, filePath, collectionName string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()
	defer func() {
		if err := o.files.Delete(filePath); err != nil {
			o.log.Warn("upload cleanup failed", zap.String("path", filePath), zap.Error(err))
		}
	}()

	if err := o.meta.UpdateStatus(ctx, docID, models.StatusProcessing, nil); err != nil {
		// Nothing written yet; the row keeps its prior state.
		o.logStatusErr(docID, "mark processing", err)
		return
	}

	chunkCount, err := o.processInner(ctx, docID, filePath, collectionName)
	if err != nil {
		o.failDocument(ctx, docID, err)
		return
	}
	o.log.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("collection", collectionName),
		zap.Int("chunks", chunkCount))
}

func (o *Orchestrator) processInner(ctx context.Context, docID, filePath, collectionName string) (int, error) {
	// The handle is captured once: an administrator model switch while
	// this run is in flight does not affect it.
	handle := o.engine.Current()

	rec, err := o.meta.Get(ctx, docID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	if rec.EmbeddingModel != handle.Info().Key {
		o.log.Warn("embedding model switched between registration and processing",
			zap.String("doc_id", docID),
			zap.String("registered", rec.EmbeddingModel),
			zap.String("using", handle.Info().Key))
	}

	segments, pageCount, err := o.extractor.Extract(ctx, filePath)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, xerr.New(xerr.Extraction, "No parseable content found in PDF")
	}

	chunks, err := o.chunker.Split(segments, rec.ChunkSize, rec.ChunkOverlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, xerr.New(xerr.Chunking, "No chunks generated from parsed PDF content")
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vecs, err := handle.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, xerr.Wrap(xerr.Embedding, "embed chunks", err)
	}
	if len(vecs) == 0 {
		return 0, xerr.New(xerr.Embedding, "Embedding generation returned empty output")
	}
	if len(vecs) != len(chunks) {
		return 0, xerr.Newf(xerr.Embedding, "embedding count mismatch: got %d want %d", len(vecs), len(chunks))
	}

	records := make([]models.ChunkRecord, len(chunks))
	for i := range chunks {
		var pageLabel *string
		if chunks[i].PageLabel != "" {
			label := chunks[i].PageLabel
			pageLabel = &label
		}
		records[i] = models.ChunkRecord{
			ChunkID:    fmt.Sprintf("%s_chunk_%d", docID, i),
			DocID:      docID,
			ChunkIndex: i,
			Text:       chunks[i].Text,
			Embedding:  vecs[i],
			PageLabel:  pageLabel,
		}
	}

	if _, err := o.vectors.EnsureCollection(ctx, collectionName); err != nil {
		return 0, err
	}
	if err := o.vectors.Add(ctx, collectionName, records); err != nil {
		// Add is all-or-nothing in our store; the sweep covers backends
		// that cannot guarantee it. DimensionMismatch propagates verbatim.
		if _, derr := o.vectors.DeleteByDocID(ctx, collectionName, docID); derr != nil {
			o.log.Warn("partial-write sweep failed",
				zap.String("doc_id", docID), zap.Error(derr))
		}
		return 0, err
	}

	// A cross-collection replace moves the row to its new collection only
	// now, once the new chunks exist there.
	if rec.CollectionName != collectionName {
		if err := o.meta.SetCollection(ctx, docID, collectionName); err != nil {
			return 0, err
		}
	}

	// Counts become visible before the COMPLETED transition, so a crash in
	// between never shows COMPLETED with stale counts.
	if err := o.meta.SetCounts(ctx, docID, len(records), pageCount); err != nil {
		return 0, err
	}
	if err := o.meta.UpdateStatus(ctx, docID, models.StatusCompleted, nil); err != nil {
		return 0, err
	}
	return len(records), nil
}

// runReplace clears the old collection's vectors for this document,
// re-registers the row PENDING with a fresh snapshot, then processes the
// new file. When old and new collections differ only the old one is
// cleared; the row moves to the new collection on completion of the run.
func (o *Orchestrator) runReplace(docID, filename string, fileSizeBytes int64, filePath, newCollection, oldCollection string, storageURL *string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)

	// The old vectors must be gone before anything else happens. Carrying
	// on past a failed delete could end COMPLETED with stale chunks of the
	// previous version still in the store, so the run aborts instead.
	removed, err := o.vectors.DeleteByDocID(ctx, oldCollection, docID)
	if err != nil {
		o.failDocument(ctx, docID, xerr.Wrap(xerr.Storage, "clear previous vectors", err))
		_ = o.files.Delete(filePath)
		cancel()
		return
	}
	if removed > 0 {
		o.log.Info("replace: cleared old vectors",
			zap.String("doc_id", docID), zap.String("collection", oldCollection), zap.Int("removed", removed))
	}

	size, overlap := o.ChunkParams()
	rec := &models.DocumentRecord{
		DocID:    docID,
		Filename: filename,
		// The row stays in its old collection until the run completes, so
		// a failed replacement never points at a collection holding none
		// of its chunks.
		CollectionName: oldCollection,
		FileSizeBytes:  fileSizeBytes,
		EmbeddingModel: o.engine.Current().Info().Key,
		ChunkSize:      size,
		ChunkOverlap:   overlap,
		Status:         models.StatusPending,
		StorageURL:     storageURL,
	}
	if err := o.meta.Upsert(ctx, rec); err != nil {
		o.log.Error("replace: re-registration failed", zap.String("doc_id", docID), zap.Error(err))
		_ = o.files.Delete(filePath)
		cancel()
		return
	}
	cancel()

	o.runProcess(docID, filePath, newCollection)
}

func (o *Orchestrator) failDocument(ctx context.Context, docID string, cause error) {
	msg := cause.Error()
	if err := o.meta.UpdateStatus(ctx, docID, models.StatusFailed, &msg); err != nil {
		o.logStatusErr(docID, "mark failed", err)
	}
	if mismatch, ok := xerr.IsDimensionMismatch(cause); ok {
		o.log.Error("ingestion failed: dimension mismatch",
			zap.String("doc_id", docID),
			zap.String("collection", mismatch.Collection),
			zap.Int("want", mismatch.Want),
			zap.Int("got", mismatch.Got))
		return
	}
	o.log.Error("ingestion failed", zap.String("doc_id", docID), zap.Error(cause))
}

// logStatusErr downgrades the benign race where the row was deleted while
// a run was in flight.
func (o *Orchestrator) logStatusErr(docID, op string, err error) {
	if xerr.IsNotFound(err) {
		o.log.Info("status update on deleted document", zap.String("doc_id", docID), zap.String("op", op))
		return
	}
	o.log.Error("status update failed", zap.String("doc_id", docID), zap.String("op", op), zap.Error(err))
}

// parseS3URL extracts the bucket and key from an S3 URL in either the
// virtual-hosted style (https://bucket.s3.region.amazonaws.com/key) or the
// path style (https://s3.region.amazonaws.com/bucket/key).
func parseS3URL(raw string) (bucket, key string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	key = strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()

	// A host whose leading label is the s3 service endpoint is path-style:
	// the bucket is the first path segment.
	if host == "s3" || strings.HasPrefix(host, "s3.") || strings.HasPrefix(host, "s3-") {
		parts := strings.SplitN(key, "/", 2)
		bucket = parts[0]
		if len(parts) == 2 {
			key = parts[1]
		} else {
			key = ""
		}
		return bucket, key
	}

	if i := strings.IndexByte(host, '.'); i > 0 {
		bucket = host[:i]
	} else {
		bucket = host
	}
	return bucket, key
}
