package chromemdb

import (
	"context"
	"fmt"
	"maps"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"knowledge-api/internal/models"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	dbPath     string
}

// NewVectorDBManager opens (or creates) the persistent database at dbPath and
// the named collection inside it. An empty dbPath keeps everything in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool, embedder embeddings.Embedder) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:       db,
		embedder: embedder,
		dbPath:   dbPath,
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}

	log.Info().Str("path", dbPath).Str("collection", collectionName).Int("documents", m.collection.Count()).
		Msg("Vector database ready")
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embedQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) embedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.embedder.EmbedQuery(ctx, text)
}

// Upsert embeds all records in one batch and stores them. Existing ids are
// overwritten.
func (m *VectorDBManager) Upsert(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(records))
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Embedding: vectors[i],
		}
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Query returns up to n nearest documents. n is capped at the collection size.
func (m *VectorDBManager) Query(ctx context.Context, text string, n int) ([]models.SearchResult, error) {
	count := m.collection.Count()
	if count == 0 || n <= 0 {
		return []models.SearchResult{}, nil
	}
	n = min(n, count)

	vector, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	var results []chromem.Result
	for {
		results, err = m.collection.QueryEmbedding(ctx, vector, n, nil, nil)
		if err == nil {
			break
		}
		// entries can be pruned between the count and the query; n shrinks
		// on every retry, so this ends
		now := m.collection.Count()
		if now >= n {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		if now == 0 {
			return []models.SearchResult{}, nil
		}
		n = now
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   maps.Clone(r.Metadata),
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Exists reports whether a document with id is stored.
func (m *VectorDBManager) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := m.collection.GetByID(ctx, id); err != nil {
		// chromem only fails GetByID for unknown or empty ids
		return false, nil
	}
	return true, nil
}

func (m *VectorDBManager) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	return m.collection.Count(), nil
}

// Export writes the collection to a single encrypted, compressed file.
func (m *VectorDBManager) Export(path, encryptionKey string) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	log.Debug().Msgf("Exporting collection %s to %s", m.collection.Name, path)
	if err := m.db.ExportToFile(path, true, encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Close is a no-op; chromem persists every write synchronously.
func (m *VectorDBManager) Close() error {
	return nil
}
