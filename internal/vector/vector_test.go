package vector

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-api/internal/models"
)

// memStore keeps records in a map; Query returns them ordered by id.
type memStore struct {
	records   map[string]models.VectorRecord
	upsertErr error
	deleted   []string
}

func newMemStore() *memStore {
	return &memStore{records: map[string]models.VectorRecord{}}
}

func (m *memStore) Upsert(_ context.Context, records []models.VectorRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memStore) Query(_ context.Context, _ string, n int) ([]models.SearchResult, error) {
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.SearchResult
	for _, id := range ids {
		if len(out) == n {
			break
		}
		r := m.records[id]
		out = append(out, models.SearchResult{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Similarity: 1})
	}
	return out, nil
}

func (m *memStore) Exists(_ context.Context, id string) (bool, error) {
	_, ok := m.records[id]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, ids ...string) error {
	for _, id := range ids {
		delete(m.records, id)
	}
	m.deleted = append(m.deleted, ids...)
	return nil
}

func (m *memStore) Count(_ context.Context) (int, error) { return len(m.records), nil }

func (m *memStore) Close() error { return nil }

func chunks(texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, t := range texts {
		out[i] = models.Chunk{Content: t, Metadata: map[string]string{models.HeaderKey1: "Intro"}}
	}
	return out
}

func TestUpsertChunksIDsAndMetadata(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)

	require.NoError(t, svc.UpsertChunks(context.Background(), chunks("a", "b", "c"), "report.pdf"))

	require.Len(t, store.records, 3)
	for i, want := range []string{"a", "b", "c"} {
		rec, ok := store.records[ChunkID("report.pdf", i)]
		require.True(t, ok)
		assert.Equal(t, want, rec.Content)
		assert.Equal(t, map[string]string{
			models.SourceKey:  "report.pdf",
			models.HeaderKey1: "Intro",
		}, rec.Metadata)
	}
}

func TestUpsertChunksDoesNotMutateInput(t *testing.T) {
	in := chunks("a")
	require.NoError(t, NewService(newMemStore()).UpsertChunks(context.Background(), in, "x.pdf"))
	_, ok := in[0].Metadata[models.SourceKey]
	assert.False(t, ok)
}

func TestUpsertChunksSourceIsDocumentName(t *testing.T) {
	store := newMemStore()
	in := []models.Chunk{{Content: "a", Metadata: map[string]string{models.SourceKey: "other.pdf"}}}
	require.NoError(t, NewService(store).UpsertChunks(context.Background(), in, "report.pdf"))
	assert.Equal(t, "report.pdf", store.records["report.pdf_0"].Metadata[models.SourceKey])
}

func TestUpsertChunksReuploadOverwrites(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.UpsertChunks(ctx, chunks("old0", "old1"), "report.pdf"))
	require.NoError(t, svc.UpsertChunks(ctx, chunks("new0", "new1"), "report.pdf"))

	assert.Len(t, store.records, 2)
	assert.Equal(t, "new0", store.records["report.pdf_0"].Content)
	assert.Equal(t, "new1", store.records["report.pdf_1"].Content)
	assert.Empty(t, store.deleted)
}

func TestUpsertChunksPrunesShrunkDocument(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.UpsertChunks(ctx, chunks("0", "1", "2", "3", "4"), "report.pdf"))
	require.NoError(t, svc.UpsertChunks(ctx, chunks("0", "1"), "report.pdf"))

	assert.Len(t, store.records, 2)
	assert.ElementsMatch(t, []string{"report.pdf_2", "report.pdf_3", "report.pdf_4"}, store.deleted)
}

func TestUpsertChunksLeavesOtherDocuments(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	require.NoError(t, svc.UpsertChunks(ctx, chunks("a", "b", "c"), "a.pdf"))
	require.NoError(t, svc.UpsertChunks(ctx, chunks("x"), "b.pdf"))

	assert.Len(t, store.records, 4)
}

func TestUpsertChunksEmpty(t *testing.T) {
	err := NewService(newMemStore()).UpsertChunks(context.Background(), nil, "a.pdf")
	assert.ErrorIs(t, err, ErrEmptyChunks)
}

func TestUpsertChunksStoreError(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("disk full")
	err := NewService(store).UpsertChunks(context.Background(), chunks("a"), "a.pdf")
	assert.ErrorContains(t, err, "disk full")
}

func TestQueryNeverNil(t *testing.T) {
	res, err := NewService(newMemStore()).Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)
}
