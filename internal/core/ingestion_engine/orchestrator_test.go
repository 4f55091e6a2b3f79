package ingestion_engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/markdave123-py/Ingesta/internal/core"
	"github.com/markdave123-py/Ingesta/internal/core/llm"
	"github.com/markdave123-py/Ingesta/internal/core/xerr"
	"github.com/markdave123-py/Ingesta/internal/models"
)

// ---- in-memory metadata store ----

type memMeta struct {
	mu    sync.Mutex
	rows  map[string]*models.DocumentRecord
	order []string
}

func newMemMeta() *memMeta {
	return &memMeta{rows: make(map[string]*models.DocumentRecord)}
}

func (m *memMeta) Upsert(_ context.Context, rec *models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	now := time.Now().UTC()
	if existing, ok := m.rows[rec.DocID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
		m.order = append(m.order, rec.DocID)
	}
	cp.UpdatedAt = now
	m.rows[rec.DocID] = &cp
	return nil
}

func (m *memMeta) Get(_ context.Context, docID string) (*models.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[docID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memMeta) List(_ context.Context, collectionName string) ([]models.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DocumentRecord
	for _, id := range m.order {
		rec := m.rows[id]
		if collectionName == "" || rec.CollectionName == collectionName {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memMeta) UpdateStatus(_ context.Context, docID string, status models.IngestionStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[docID]
	if !ok {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memMeta) SetCounts(_ context.Context, docID string, totalChunks, totalPages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[docID]
	if !ok {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	rec.TotalChunks = totalChunks
	rec.TotalPages = totalPages
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memMeta) SetCollection(_ context.Context, docID, collectionName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[docID]
	if !ok {
		return xerr.Newf(xerr.NotFound, "document not found: %s", docID)
	}
	rec.CollectionName = collectionName
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memMeta) Delete(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, docID)
	for i, id := range m.order {
		if id == docID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memMeta) Ping(context.Context) error { return nil }
func (m *memMeta) Close() error               { return nil }

// ---- in-memory vector store ----

type memCollection struct {
	dim       int
	createdAt time.Time
	chunks    map[string]models.ChunkRecord
}

type memVectors struct {
	mu    sync.Mutex
	colls map[string]*memCollection
}

func newMemVectors() *memVectors {
	return &memVectors{colls: make(map[string]*memCollection)}
}

func (v *memVectors) EnsureCollection(_ context.Context, name string) (*models.CollectionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[name]
	if !ok {
		coll = &memCollection{createdAt: time.Now().UTC(), chunks: make(map[string]models.ChunkRecord)}
		v.colls[name] = coll
	}
	return v.infoLocked(name, coll), nil
}

func (v *memVectors) infoLocked(name string, coll *memCollection) *models.CollectionInfo {
	docs := make(map[string]struct{})
	for _, ch := range coll.chunks {
		docs[ch.DocID] = struct{}{}
	}
	return &models.CollectionInfo{
		Name:          name,
		Metric:        "cosine",
		Dim:           coll.dim,
		DocumentCount: len(docs),
		ChunkCount:    len(coll.chunks),
		CreatedAt:     coll.createdAt,
	}
}

func (v *memVectors) Add(_ context.Context, collection string, chunks []models.ChunkRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[collection]
	if !ok {
		return xerr.Newf(xerr.NotFound, "collection not found: %s", collection)
	}
	if len(chunks) == 0 {
		return nil
	}
	width := len(chunks[0].Embedding)
	for _, ch := range chunks {
		if len(ch.Embedding) != width {
			return xerr.New(xerr.Validation, "ragged embedding batch")
		}
	}
	if coll.dim == 0 {
		coll.dim = width
	} else if coll.dim != width {
		return &xerr.DimensionMismatchError{Collection: collection, Want: coll.dim, Got: width}
	}
	for _, ch := range chunks {
		coll.chunks[ch.ChunkID] = ch
	}
	return nil
}

func (v *memVectors) DeleteByDocID(_ context.Context, collection, docID string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[collection]
	if !ok {
		return 0, nil
	}
	removed := 0
	for id, ch := range coll.chunks {
		if ch.DocID == docID {
			delete(coll.chunks, id)
			removed++
		}
	}
	return removed, nil
}

func (v *memVectors) Query(_ context.Context, collection string, _ []float32, k int, filterDocID string) ([]models.ScoredChunk, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[collection]
	if !ok {
		return nil, xerr.Newf(xerr.NotFound, "collection not found: %s", collection)
	}
	if k < 1 {
		k = 1
	} else if k > 100 {
		k = 100
	}
	var recs []models.ChunkRecord
	for _, ch := range coll.chunks {
		if filterDocID == "" || ch.DocID == filterDocID {
			recs = append(recs, ch)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ChunkIndex < recs[j].ChunkIndex })
	if len(recs) > k {
		recs = recs[:k]
	}
	out := make([]models.ScoredChunk, len(recs))
	for i := range recs {
		out[i] = models.ScoredChunk{
			ChunkID:  recs[i].ChunkID,
			Text:     recs[i].Text,
			Metadata: recs[i].MetadataTags(collection),
			Distance: float64(i) / 10,
		}
	}
	return out, nil
}

func (v *memVectors) ListCollections(_ context.Context) ([]models.CollectionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.CollectionInfo
	for name, coll := range v.colls {
		out = append(out, *v.infoLocked(name, coll))
	}
	return out, nil
}

func (v *memVectors) GetCollectionInfo(_ context.Context, name string) (*models.CollectionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[name]
	if !ok {
		return nil, xerr.Newf(xerr.NotFound, "collection not found: %s", name)
	}
	return v.infoLocked(name, coll), nil
}

func (v *memVectors) CollectionExists(_ context.Context, name string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.colls[name]
	return ok, nil
}

func (v *memVectors) RenameCollection(_ context.Context, oldName, newName string) (*models.CollectionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[oldName]
	if !ok {
		return nil, xerr.Newf(xerr.NotFound, "collection not found: %s", oldName)
	}
	if _, exists := v.colls[newName]; exists {
		return nil, xerr.Newf(xerr.Validation, "collection already exists: %s", newName)
	}
	delete(v.colls, oldName)
	v.colls[newName] = coll
	return v.infoLocked(newName, coll), nil
}

func (v *memVectors) ResetCollection(_ context.Context, name string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[name]
	if !ok {
		return 0, xerr.Newf(xerr.NotFound, "collection not found: %s", name)
	}
	n := len(coll.chunks)
	coll.chunks = make(map[string]models.ChunkRecord)
	return n, nil
}

func (v *memVectors) DeleteCollection(_ context.Context, name string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[name]
	if !ok {
		return 0, xerr.Newf(xerr.NotFound, "collection not found: %s", name)
	}
	n := len(coll.chunks)
	delete(v.colls, name)
	return n, nil
}

func (v *memVectors) Ping(context.Context) error { return nil }
func (v *memVectors) Close() error               { return nil }

func (v *memVectors) chunkIDs(collection, docID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	coll, ok := v.colls[collection]
	if !ok {
		return nil
	}
	var ids []string
	for id, ch := range coll.chunks {
		if docID == "" || ch.DocID == docID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// flakyDeleteVectors fails DeleteByDocID a configured number of times
// before delegating to the in-memory store.
type flakyDeleteVectors struct {
	*memVectors
	mu         sync.Mutex
	deleteErrs int
}

func (f *flakyDeleteVectors) DeleteByDocID(ctx context.Context, collection, docID string) (int, error) {
	f.mu.Lock()
	if f.deleteErrs > 0 {
		f.deleteErrs--
		f.mu.Unlock()
		return 0, xerr.New(xerr.Storage, "vector store unavailable")
	}
	f.mu.Unlock()
	return f.memVectors.DeleteByDocID(ctx, collection, docID)
}

// ---- fake extractor and embedder ----

type fakeExtractor struct {
	mu       sync.Mutex
	segments []core.TextSegment
	pages    int
	err      error
	gate     chan struct{}
	started  chan struct{}
}

func (f *fakeExtractor) set(segments []core.TextSegment, pages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = segments
	f.pages = pages
}

func (f *fakeExtractor) Extract(context.Context, string) ([]core.TextSegment, int, error) {
	f.mu.Lock()
	segments, pages, err := f.segments, f.pages, f.err
	started, gate := f.started, f.gate
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return segments, pages, err
}

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) vector(text string) []float32 {
	vec := make([]float32, f.dim)
	for i := range vec {
		vec[i] = float32(len(text)+i) / 100
	}
	return vec
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vector(text), nil
}

// ---- harness ----

type orchestratorFixture struct {
	orch      *Orchestrator
	meta      *memMeta
	vectors   *memVectors
	extractor *fakeExtractor
	engine    *llm.Engine
	files     *FileManager
}

func pages(texts ...string) []core.TextSegment {
	out := make([]core.TextSegment, len(texts))
	for i, t := range texts {
		out[i] = core.TextSegment{Text: t, PageLabel: fmt.Sprintf("%d", i+1)}
	}
	return out
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	return newFixtureStore(t, func(v *memVectors) core.VectorCollectionStore { return v })
}

// newFixtureStore lets a test wrap the vector store, e.g. to inject
// failures around the in-memory one.
func newFixtureStore(t *testing.T, wrap func(*memVectors) core.VectorCollectionStore) *orchestratorFixture {
	t.Helper()
	meta := newMemMeta()
	vectors := newMemVectors()
	extractor := &fakeExtractor{}
	extractor.set(pages("alpha bravo charlie", "delta echo foxtrot", "golf hotel india"), 3)

	// Catalog dims do not matter here; the factory picks small test widths.
	dims := map[string]int{
		"text-embedding-004":   4,
		"embedding-001":        4,
		"gemini-embedding-001": 8,
	}
	factory := func(_ context.Context, modelName string) (core.EmbeddingProvider, error) {
		return &fakeEmbedder{dim: dims[modelName]}, nil
	}
	engine, err := llm.NewEngine(context.Background(), factory, "text-embedding-004")
	require.NoError(t, err)

	files, err := NewFileManager(t.TempDir())
	require.NoError(t, err)

	orch, err := NewOrchestrator(meta, wrap(vectors), extractor, NewRecursiveChunker(), engine, files, 2, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	return &orchestratorFixture{orch: orch, meta: meta, vectors: vectors, extractor: extractor, engine: engine, files: files}
}

func (f *orchestratorFixture) registerAndSave(t *testing.T, docID, collection string) string {
	t.Helper()
	content := []byte("%PDF-1.4 test fixture")
	path, err := f.files.Save(content, "doc.pdf", docID)
	require.NoError(t, err)
	_, err = f.orch.Register(context.Background(), docID, "doc.pdf", collection, int64(len(content)), nil)
	require.NoError(t, err)
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, what)
}

func (f *orchestratorFixture) waitStatus(t *testing.T, docID string, want models.IngestionStatus) *models.DocumentRecord {
	t.Helper()
	waitFor(t, fmt.Sprintf("doc %s to reach %s", docID, want), func() bool {
		rec, err := f.meta.Get(context.Background(), docID)
		return err == nil && rec != nil && rec.Status == want
	})
	rec, err := f.meta.Get(context.Background(), docID)
	require.NoError(t, err)
	return rec
}

// ---- tests ----

func TestRegisterCreatesPendingRow(t *testing.T) {
	f := newFixture(t)

	rec, err := f.orch.Register(context.Background(), "doc-1", "report.pdf", "docs", 1234, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.TotalChunks)
	assert.Equal(t, "text-embedding-004", rec.EmbeddingModel)
	assert.Equal(t, 700, rec.ChunkSize)
	assert.Equal(t, 300, rec.ChunkOverlap)

	stored, err := f.meta.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Register(context.Background(), "", "report.pdf", "docs", 1, nil)
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))
}

func TestProcessLifecycleSuccess(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "docs")

	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	rec := f.waitStatus(t, "doc-1", models.StatusCompleted)

	assert.Equal(t, 3, rec.TotalChunks)
	assert.Equal(t, 3, rec.TotalPages)
	assert.Nil(t, rec.ErrorMessage)

	ids := f.vectors.chunkIDs("docs", "doc-1")
	assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1", "doc-1_chunk_2"}, ids)

	// The saved upload is removed once processing ends.
	waitFor(t, "upload cleanup", func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestChunkCountsVisibleOnCompletion(t *testing.T) {
	f := newFixture(t)
	f.extractor.set(pages("one"), 1)
	path := f.registerAndSave(t, "doc-1", "docs")

	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	rec := f.waitStatus(t, "doc-1", models.StatusCompleted)
	assert.Equal(t, 1, rec.TotalChunks)
	assert.Equal(t, 1, rec.TotalPages)
}

func TestEmptyExtractionFails(t *testing.T) {
	f := newFixture(t)
	f.extractor.set(nil, 0)
	path := f.registerAndSave(t, "doc-1", "docs")

	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	rec := f.waitStatus(t, "doc-1", models.StatusFailed)

	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "No parseable content found in PDF")
	assert.Equal(t, 0, rec.TotalChunks)
	assert.Empty(t, f.vectors.chunkIDs("docs", "doc-1"))
}

func TestExtractorErrorRecorded(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = xerr.New(xerr.Extraction, "corrupt xref table")
	path := f.registerAndSave(t, "doc-1", "docs")

	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	rec := f.waitStatus(t, "doc-1", models.StatusFailed)

	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "corrupt xref table")
}

func TestDeleteRemovesVectorsAndRow(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "docs")
	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	removed, err := f.orch.Delete(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	rec, err := f.meta.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.vectors.chunkIDs("docs", "doc-1"))

	_, err = f.orch.Delete(context.Background(), "doc-1")
	require.Error(t, err)
	assert.True(t, xerr.IsNotFound(err))
}

func TestReplaceSwapsChunks(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "docs")
	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	f.extractor.set(pages("new first page", "new second page"), 2)
	content := []byte("%PDF-1.4 v2")
	newPath, err := f.files.Save(content, "doc-v2.pdf", "doc-1")
	require.NoError(t, err)

	require.NoError(t, f.orch.SubmitReplace(context.Background(), "doc-1", "doc-v2.pdf", int64(len(content)), newPath, "docs"))
	waitFor(t, "replacement to complete", func() bool {
		rec, err := f.meta.Get(context.Background(), "doc-1")
		return err == nil && rec != nil && rec.Status == models.StatusCompleted && rec.TotalChunks == 2
	})

	rec, err := f.meta.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-v2.pdf", rec.Filename)
	assert.Equal(t, 2, rec.TotalPages)

	ids := f.vectors.chunkIDs("docs", "doc-1")
	assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1"}, ids)
}

func TestReplaceAcrossCollections(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "old-coll")
	require.NoError(t, f.orch.Submit("doc-1", path, "old-coll"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	content := []byte("%PDF-1.4 v2")
	newPath, err := f.files.Save(content, "doc-v2.pdf", "doc-1")
	require.NoError(t, err)
	require.NoError(t, f.orch.SubmitReplace(context.Background(), "doc-1", "doc-v2.pdf", int64(len(content)), newPath, "new-coll"))

	waitFor(t, "cross-collection replace", func() bool {
		rec, err := f.meta.Get(context.Background(), "doc-1")
		return err == nil && rec != nil && rec.Status == models.StatusCompleted && rec.CollectionName == "new-coll"
	})
	assert.Empty(t, f.vectors.chunkIDs("old-coll", "doc-1"))
	assert.Len(t, f.vectors.chunkIDs("new-coll", "doc-1"), 3)
}

func TestReplaceAbortsWhenClearingOldVectorsFails(t *testing.T) {
	var flaky *flakyDeleteVectors
	f := newFixtureStore(t, func(v *memVectors) core.VectorCollectionStore {
		flaky = &flakyDeleteVectors{memVectors: v}
		return flaky
	})

	path := f.registerAndSave(t, "doc-1", "docs")
	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	// The new file would yield a single chunk; if the run carried on past
	// a failed delete it would end COMPLETED with total_chunks=1 while the
	// three old chunks were still stored.
	f.extractor.set(pages("replacement page"), 1)
	flaky.mu.Lock()
	flaky.deleteErrs = 1
	flaky.mu.Unlock()

	content := []byte("%PDF-1.4 v2")
	newPath, err := f.files.Save(content, "doc-v2.pdf", "doc-1")
	require.NoError(t, err)
	require.NoError(t, f.orch.SubmitReplace(context.Background(), "doc-1", "doc-v2.pdf", int64(len(content)), newPath, "docs"))

	rec := f.waitStatus(t, "doc-1", models.StatusFailed)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "clear previous vectors")

	// The previous version's chunks are intact and still agree with the
	// row's counts; the new upload was cleaned up.
	assert.Equal(t, 3, rec.TotalChunks)
	assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1", "doc-1_chunk_2"},
		f.vectors.chunkIDs("docs", "doc-1"))
	waitFor(t, "upload cleanup", func() bool {
		_, err := os.Stat(newPath)
		return os.IsNotExist(err)
	})
}

func TestFailedCrossCollectionReplaceKeepsOldCollection(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "old-coll")
	require.NoError(t, f.orch.Submit("doc-1", path, "old-coll"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	// Force the replacement run to fail after the old vectors are cleared.
	f.extractor.set(nil, 0)
	content := []byte("%PDF-1.4 v2")
	newPath, err := f.files.Save(content, "doc-v2.pdf", "doc-1")
	require.NoError(t, err)
	require.NoError(t, f.orch.SubmitReplace(context.Background(), "doc-1", "doc-v2.pdf", int64(len(content)), newPath, "new-coll"))

	rec := f.waitStatus(t, "doc-1", models.StatusFailed)

	// The row only moves to the new collection on completion; a failed
	// run must not point at a collection holding none of its chunks.
	assert.Equal(t, "old-coll", rec.CollectionName)
	assert.Empty(t, f.vectors.chunkIDs("new-coll", "doc-1"))
}

func TestReplaceUnknownDocRejected(t *testing.T) {
	f := newFixture(t)
	path, err := f.files.Save([]byte("%PDF"), "doc.pdf", "ghost")
	require.NoError(t, err)

	err = f.orch.SubmitReplace(context.Background(), "ghost", "doc.pdf", 4, path, "docs")
	require.Error(t, err)
	assert.True(t, xerr.IsNotFound(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDimensionMismatchFailsCleanly(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-a", "shared")
	require.NoError(t, f.orch.Submit("doc-a", path, "shared"))
	f.waitStatus(t, "doc-a", models.StatusCompleted)

	// Collection dimension is now pinned at 4. A wider model must fail the
	// write without touching what is already there.
	_, err := f.engine.Switch(context.Background(), "gemini-embedding-001")
	require.NoError(t, err)

	pathB := f.registerAndSave(t, "doc-b", "shared")
	require.NoError(t, f.orch.Submit("doc-b", pathB, "shared"))
	rec := f.waitStatus(t, "doc-b", models.StatusFailed)

	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "shared")
	assert.Contains(t, *rec.ErrorMessage, "dimension 4")
	assert.Contains(t, *rec.ErrorMessage, "got 8")

	assert.Empty(t, f.vectors.chunkIDs("shared", "doc-b"))
	assert.Len(t, f.vectors.chunkIDs("shared", "doc-a"), 3)
}

func TestConcurrentSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	f.extractor.gate = make(chan struct{})
	f.extractor.started = make(chan struct{}, 1)

	path := f.registerAndSave(t, "doc-1", "docs")
	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))

	select {
	case <-f.extractor.started:
	case <-time.After(3 * time.Second):
		t.Fatal("first job never started")
	}

	secondPath, err := f.files.Save([]byte("%PDF dup"), "doc.pdf", "doc-1-dup")
	require.NoError(t, err)
	err = f.orch.Submit("doc-1", secondPath, "docs")
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))
	assert.Contains(t, err.Error(), "already being processed")

	close(f.extractor.gate)
	f.waitStatus(t, "doc-1", models.StatusCompleted)
	assert.Len(t, f.vectors.chunkIDs("docs", "doc-1"), 3)
}

func TestSearchAndSampleChunks(t *testing.T) {
	f := newFixture(t)
	path := f.registerAndSave(t, "doc-1", "docs")
	require.NoError(t, f.orch.Submit("doc-1", path, "docs"))
	f.waitStatus(t, "doc-1", models.StatusCompleted)

	hits, err := f.orch.Search(context.Background(), "docs", "alpha", 10, "")
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	_, err = f.orch.Search(context.Background(), "docs", "   ", 10, "")
	require.Error(t, err)
	assert.True(t, xerr.IsValidation(err))

	sample, err := f.orch.SampleChunks(context.Background(), "doc-1", "docs", 2)
	require.NoError(t, err)
	require.Len(t, sample, 2)
	for _, hit := range sample {
		assert.Equal(t, "doc-1", hit.Metadata["doc_id"])
		assert.Equal(t, "docs", hit.Metadata["collection_name"])
		assert.True(t, strings.HasPrefix(hit.ChunkID, "doc-1_chunk_"))
	}
}

func TestUpdateChunkParams(t *testing.T) {
	f := newFixture(t)

	require.Error(t, f.orch.UpdateChunkParams(0, 0))
	require.Error(t, f.orch.UpdateChunkParams(100, 100))
	require.NoError(t, f.orch.UpdateChunkParams(500, 100))

	size, overlap := f.orch.ChunkParams()
	assert.Equal(t, 500, size)
	assert.Equal(t, 100, overlap)

	// New registrations snapshot the new values; old rows keep theirs.
	rec, err := f.orch.Register(context.Background(), "doc-2", "x.pdf", "docs", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 500, rec.ChunkSize)
	assert.Equal(t, 100, rec.ChunkOverlap)
}

func TestParseS3URL(t *testing.T) {
	cases := []struct {
		name   string
		url    string
		bucket string
		key    string
	}{
		{
			name:   "virtual-hosted style",
			url:    "https://my-bucket.s3.us-east-2.amazonaws.com/originals/doc-1/report.pdf",
			bucket: "my-bucket",
			key:    "originals/doc-1/report.pdf",
		},
		{
			name:   "path style",
			url:    "https://s3.us-east-2.amazonaws.com/my-bucket/originals/doc-1/report.pdf",
			bucket: "my-bucket",
			key:    "originals/doc-1/report.pdf",
		},
		{
			name:   "legacy dashed path style",
			url:    "https://s3-us-west-1.amazonaws.com/my-bucket/report.pdf",
			bucket: "my-bucket",
			key:    "report.pdf",
		},
		{
			name:   "path style without key",
			url:    "https://s3.us-east-2.amazonaws.com/my-bucket",
			bucket: "my-bucket",
			key:    "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key := parseS3URL(tc.url)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
		})
	}
}
