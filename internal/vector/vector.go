package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"knowledge-api/internal/models"
)

var ErrEmptyChunks = errors.New("no chunks to upsert")

// Store is the persistence side of the index. chromemdb and qdrantdb
// implement it.
type Store interface {
	Upsert(ctx context.Context, records []models.VectorRecord) error
	Query(ctx context.Context, text string, n int) ([]models.SearchResult, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, ids ...string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Service maps chunks of one document onto index entries.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ChunkID is the index id of the i-th chunk of a document.
func ChunkID(documentName string, i int) string {
	return documentName + "_" + strconv.Itoa(i)
}

// UpsertChunks writes chunks as {documentName}_{i}. Re-uploading a document
// overwrites its entries; entries beyond the new chunk count are removed.
func (s *Service) UpsertChunks(ctx context.Context, chunks []models.Chunk, documentName string) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	logger := log.With().Str("document", documentName).Logger()

	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[models.SourceKey] = documentName
		records[i] = models.VectorRecord{
			ID:       ChunkID(documentName, i),
			Content:  c.Content,
			Metadata: meta,
		}
	}

	if err := s.store.Upsert(ctx, records); err != nil {
		return fmt.Errorf("upserting %s: %w", documentName, err)
	}
	logger.Info().Msgf("Upserted %d chunks to vector store", len(records))

	pruned, err := s.pruneFrom(ctx, documentName, len(records))
	if err != nil {
		// the new version is already stored; leftovers only add noise
		logger.Warn().Err(err).Msg("Failed to prune stale chunks")
		return nil
	}
	if pruned > 0 {
		logger.Info().Msgf("Removed %d stale chunks from a previous version", pruned)
	}
	return nil
}

// pruneFrom deletes {documentName}_{start}, {documentName}_{start+1}, ...
// until the first missing id.
func (s *Service) pruneFrom(ctx context.Context, documentName string, start int) (int, error) {
	var stale []string
	for i := start; ; i++ {
		id := ChunkID(documentName, i)
		ok, err := s.store.Exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.store.Delete(ctx, stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Query returns at most n nearest chunks.
func (s *Service) Query(ctx context.Context, text string, n int) ([]models.SearchResult, error) {
	results, err := s.store.Query(ctx, text, n)
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Service) Close() error {
	return s.store.Close()
}
