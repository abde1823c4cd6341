package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-api/internal/db"
	"knowledge-api/internal/models"
)

type fakeProcessor struct {
	content string
	err     error
}

func (f fakeProcessor) ProcessPDF(ctx context.Context, _ string) (*models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ExtractionResult{Content: f.content, PageCount: 2, Metadata: map[string]any{}}, nil
}

func (f fakeProcessor) ProcessFile(ctx context.Context, path string) (*models.ExtractionResult, error) {
	return f.ProcessPDF(ctx, path)
}

type fakeChunker struct {
	chunks []models.Chunk
	panics bool
}

func (f fakeChunker) CreateChunks(string) ([]models.Chunk, error) {
	if f.panics {
		panic("splitter exploded")
	}
	return f.chunks, nil
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls int
	names []string
	err   error
}

func (f *fakeIndexer) UpsertChunks(_ context.Context, _ []models.Chunk, documentName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.names = append(f.names, documentName)
	return f.err
}

func tempUpload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0123abcd_report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	return path
}

func queuedJob(t *testing.T, store db.JobStore, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &models.Job{
		ID:        id,
		Filename:  "Q3 report.pdf",
		Status:    models.JobQueued,
		CreatedAt: time.Now(),
	}))
}

func runOnce(t *testing.T, p *Pipeline, store db.JobStore) (*models.Job, string) {
	t.Helper()
	path := tempUpload(t)
	queuedJob(t, store, "job-1")
	p.Run(context.Background(), Task{JobID: "job-1", Path: path, Filename: "Q3 report.pdf"})
	job, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	return job, path
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temp file should be deleted")
}

func TestRunCompleted(t *testing.T) {
	store := db.NewMemoryJobStore()
	idx := &fakeIndexer{}
	chunks := []models.Chunk{{Content: "a"}, {Content: "b"}}
	p := NewPipeline(fakeProcessor{content: "# A\na\n\nb"}, fakeChunker{chunks: chunks}, idx, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 2, job.PageCount)
	assert.Equal(t, 2, job.ChunkCount)
	assert.Empty(t, job.Error)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, []string{"Q3 report.pdf"}, idx.names)
	assertRemoved(t, path)
}

func TestRunWhitespaceContentSkipsIndexing(t *testing.T) {
	store := db.NewMemoryJobStore()
	idx := &fakeIndexer{}
	p := NewPipeline(fakeProcessor{content: "  \n\t "}, fakeChunker{chunks: []models.Chunk{{Content: "x"}}}, idx, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobSkipped, job.Status)
	assert.Zero(t, idx.calls)
	assertRemoved(t, path)
}

func TestRunNoChunksSkipsIndexing(t *testing.T) {
	store := db.NewMemoryJobStore()
	idx := &fakeIndexer{}
	p := NewPipeline(fakeProcessor{content: "text"}, fakeChunker{}, idx, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobSkipped, job.Status)
	assert.Zero(t, idx.calls)
	assertRemoved(t, path)
}

func TestRunConversionFailure(t *testing.T) {
	store := db.NewMemoryJobStore()
	idx := &fakeIndexer{}
	p := NewPipeline(fakeProcessor{err: errors.New("corrupt xref")}, fakeChunker{}, idx, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "corrupt xref")
	assert.Zero(t, idx.calls)
	assertRemoved(t, path)
}

func TestRunIndexFailure(t *testing.T) {
	store := db.NewMemoryJobStore()
	idx := &fakeIndexer{err: errors.New("store unavailable")}
	p := NewPipeline(fakeProcessor{content: "text"}, fakeChunker{chunks: []models.Chunk{{Content: "text"}}}, idx, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, 1, job.ChunkCount)
	assert.Contains(t, job.Error, "store unavailable")
	assertRemoved(t, path)
}

func TestRunRecoversPanic(t *testing.T) {
	store := db.NewMemoryJobStore()
	p := NewPipeline(fakeProcessor{content: "text"}, fakeChunker{panics: true}, &fakeIndexer{}, store)

	job, path := runOnce(t, p, store)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "splitter exploded")
	assertRemoved(t, path)
}

func TestRunWithoutJobStore(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewPipeline(fakeProcessor{content: "text"}, fakeChunker{chunks: []models.Chunk{{Content: "text"}}}, idx, nil)

	path := tempUpload(t)
	p.Run(context.Background(), Task{Path: path, Filename: "a.pdf"})
	assert.Equal(t, 1, idx.calls)
	assertRemoved(t, path)
}

func TestIngestFileKeepsFile(t *testing.T) {
	idx := &fakeIndexer{}
	p := NewPipeline(fakeProcessor{content: "text"}, fakeChunker{chunks: []models.Chunk{{Content: "text"}}}, idx, nil)

	path := tempUpload(t)
	out := p.IngestFile(context.Background(), path)
	require.NoError(t, out.Err)
	assert.Equal(t, models.JobCompleted, out.Status)
	assert.Equal(t, []string{"0123abcd_report.pdf"}, idx.names)

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)

	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))
	assert.Equal(t, int32(2), peak.Load())
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(context.Context) { <-block }))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Submit(func(context.Context) {}), ErrPoolClosed)
}

func TestPoolShutdownTimeoutCancelsTasks(t *testing.T) {
	pool := NewPool(1)
	cancelled := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	pool := NewPool(1)
	require.NoError(t, pool.Submit(func(context.Context) { panic("boom") }))

	var ran atomic.Bool
	require.NoError(t, pool.Submit(func(context.Context) { ran.Store(true) }))
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}
