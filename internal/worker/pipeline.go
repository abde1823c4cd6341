package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"knowledge-api/internal/db"
	"knowledge-api/internal/helper"
	"knowledge-api/internal/metrics"
	"knowledge-api/internal/models"
)

type Processor interface {
	ProcessPDF(ctx context.Context, path string) (*models.ExtractionResult, error)
	ProcessFile(ctx context.Context, path string) (*models.ExtractionResult, error)
}

type Chunker interface {
	CreateChunks(markdown string) ([]models.Chunk, error)
}

type Indexer interface {
	UpsertChunks(ctx context.Context, chunks []models.Chunk, documentName string) error
}

// Task is one uploaded document waiting to be indexed. Path is a temp file
// the pipeline owns and deletes.
type Task struct {
	JobID    string
	Path     string
	Filename string
}

// Outcome summarises one pipeline run.
type Outcome struct {
	Status models.JobStatus
	Pages  int
	Chunks int
	Err    error
}

// Pipeline converts, chunks and indexes documents.
type Pipeline struct {
	processor Processor
	chunker   Chunker
	indexer   Indexer
	jobs      db.JobStore
}

// NewPipeline wires the stages together. jobs may be nil when nobody tracks
// progress (the CLI).
func NewPipeline(processor Processor, chunker Chunker, indexer Indexer, jobs db.JobStore) *Pipeline {
	return &Pipeline{
		processor: processor,
		chunker:   chunker,
		indexer:   indexer,
		jobs:      jobs,
	}
}

// Run processes an uploaded PDF in the background. Errors end up in the log
// and the job record; nothing is returned. The temp file is always removed.
func (p *Pipeline) Run(ctx context.Context, t Task) {
	defer helper.RemoveIfExists(t.Path)

	logger := log.With().Str("filename", t.Filename).Str("job_id", t.JobID).Logger()
	documentName := helper.SafeDocumentName(t.Filename)
	start := time.Now()
	p.markStarted(ctx, t.JobID, start)

	out := Outcome{Status: models.JobFailed}
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Status: models.JobFailed, Err: fmt.Errorf("panic: %v", r)}
			logger.Error().Err(out.Err).Msg("Error processing document in background")
		}
		metrics.Jobs.WithLabelValues(string(out.Status)).Inc()
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		p.markFinished(ctx, t.JobID, out)
	}()

	out = p.process(ctx, logger, t.Path, documentName, p.processor.ProcessPDF)
}

// IngestFile runs the pipeline synchronously on a local file of any
// supported format. The file is left in place.
func (p *Pipeline) IngestFile(ctx context.Context, path string) Outcome {
	documentName := helper.SafeDocumentName(path)
	logger := log.With().Str("filename", documentName).Logger()
	return p.process(ctx, logger, path, documentName, p.processor.ProcessFile)
}

type convertFunc func(ctx context.Context, path string) (*models.ExtractionResult, error)

func (p *Pipeline) process(ctx context.Context, logger zerolog.Logger, path, documentName string, convert convertFunc) Outcome {
	logger.Info().Msgf("Starting background processing for: %s", documentName)

	res, err := convert(ctx, path)
	if err != nil {
		logger.Error().Err(err).Msg("Error processing document in background")
		return Outcome{Status: models.JobFailed, Err: err}
	}
	if strings.TrimSpace(res.Content) == "" {
		logger.Warn().Msgf("No content extracted from %s", documentName)
		return Outcome{Status: models.JobSkipped, Pages: res.PageCount}
	}

	chunks, err := p.chunker.CreateChunks(res.Content)
	if err != nil {
		logger.Error().Err(err).Msg("Error processing document in background")
		return Outcome{Status: models.JobFailed, Pages: res.PageCount, Err: err}
	}
	if len(chunks) == 0 {
		logger.Warn().Msgf("No chunks generated for %s", documentName)
		return Outcome{Status: models.JobSkipped, Pages: res.PageCount}
	}

	if err := p.indexer.UpsertChunks(ctx, chunks, documentName); err != nil {
		logger.Error().Err(err).Msg("Error processing document in background")
		return Outcome{Status: models.JobFailed, Pages: res.PageCount, Chunks: len(chunks), Err: err}
	}
	metrics.ChunksUpserted.Add(float64(len(chunks)))

	logger.Info().Int("pages", res.PageCount).Int("chunks", len(chunks)).
		Msgf("Successfully processed and stored %s", documentName)
	return Outcome{Status: models.JobCompleted, Pages: res.PageCount, Chunks: len(chunks)}
}

func (p *Pipeline) markStarted(ctx context.Context, jobID string, at time.Time) {
	p.updateJob(ctx, jobID, func(j *models.Job) {
		j.Status = models.JobProcessing
		j.StartedAt = &at
	})
}

func (p *Pipeline) markFinished(ctx context.Context, jobID string, out Outcome) {
	p.updateJob(ctx, jobID, func(j *models.Job) {
		now := time.Now().UTC()
		j.Status = out.Status
		j.PageCount = out.Pages
		j.ChunkCount = out.Chunks
		j.FinishedAt = &now
		if out.Err != nil {
			j.Error = out.Err.Error()
		}
	})
}

// updateJob applies fn to the stored job. Failures are logged only; job
// records are informational.
func (p *Pipeline) updateJob(ctx context.Context, jobID string, fn func(*models.Job)) {
	if p.jobs == nil || jobID == "" {
		return
	}
	// record the outcome even when the run itself was cancelled
	ctx = context.WithoutCancel(ctx)

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Could not load job record")
		return
	}
	fn(job)
	if err := p.jobs.Update(ctx, job); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Could not update job record")
	}
}
