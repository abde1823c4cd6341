package qdrantdb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"knowledge-api/internal/models"
)

func TestPointIDStable(t *testing.T) {
	a := PointID("report.pdf_0")
	assert.Equal(t, a, PointID("report.pdf_0"))
	assert.NotEqual(t, a, PointID("report.pdf_1"))

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestPayloadCarriesIDAndContent(t *testing.T) {
	rec := models.VectorRecord{
		ID:      "report.pdf_2",
		Content: "Revenue grew.",
		Metadata: map[string]string{
			models.SourceKey:  "report.pdf",
			models.HeaderKey1: "Results",
		},
	}

	res := toResult(payload(rec), 0.87)
	assert.Equal(t, "report.pdf_2", res.ID)
	assert.Equal(t, "Revenue grew.", res.Content)
	assert.Equal(t, rec.Metadata, res.Metadata)
	assert.InDelta(t, 0.87, res.Similarity, 1e-6)
}

// fakeCollections mimics the server: a second create fails with AlreadyExists.
type fakeCollections struct {
	mu      sync.Mutex
	exists  bool
	creates int
	checks  int
}

func (f *fakeCollections) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.exists, nil
}

func (f *fakeCollections) CreateCollection(context.Context, *qdrant.CreateCollection) error {
	// widen the window between the check and the create
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.exists {
		return status.Error(codes.AlreadyExists, "collection already exists")
	}
	f.exists = true
	return nil
}

func TestEnsureCollectionConcurrentFirstWrites(t *testing.T) {
	fake := &fakeCollections{}
	s := &Store{collections: fake, collection: "knowledge_base"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.ensureCollection(context.Background(), 384)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 1, fake.checks)
}

func TestEnsureCollectionAlreadyExistsIsSuccess(t *testing.T) {
	// another process created it between our check and create
	fake := racedCollections{}
	s := &Store{collections: fake, collection: "knowledge_base"}

	require.NoError(t, s.ensureCollection(context.Background(), 384))
	ok, err := s.collectionExists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

type racedCollections struct{}

func (racedCollections) CollectionExists(context.Context, string) (bool, error) { return false, nil }

func (racedCollections) CreateCollection(context.Context, *qdrant.CreateCollection) error {
	return fmt.Errorf("CreateCollection() failed: %w", status.Error(codes.AlreadyExists, "exists"))
}
