package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"knowledge-api/internal/chromemdb"
	"knowledge-api/internal/chunker"
	"knowledge-api/internal/config"
	"knowledge-api/internal/db"
	"knowledge-api/internal/embedding"
	"knowledge-api/internal/parser"
	"knowledge-api/internal/qdrantdb"
	"knowledge-api/internal/vector"
)

// app holds the services shared by the commands. Everything is built once
// here and passed down.
type app struct {
	embedder  embedding.Provider
	store     vector.Store
	chromem   *chromemdb.VectorDBManager
	vectors   *vector.Service
	processor *parser.Processor
	chunker   *chunker.Service
}

func newApp(cfg *config.Config) (*app, error) {
	embedder, err := embedding.New(cfg.Embedding, cfg.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}

	a := &app{
		embedder:  embedder,
		processor: parser.NewProcessor(cfg.PDF),
		chunker:   chunker.NewService(),
	}

	switch cfg.Vector.Store {
	case "qdrant":
		a.store, err = qdrantdb.New(qdrantdb.Config{
			Host:       cfg.Vector.QdrantHost,
			Port:       cfg.Vector.QdrantPort,
			APIKey:     cfg.Vector.QdrantKey,
			UseTLS:     cfg.Vector.QdrantTLS,
			Collection: cfg.Vector.Collection,
		}, embedder)
	default:
		a.chromem, err = chromemdb.NewVectorDBManager(cfg.Vector.Path, cfg.Vector.Collection, cfg.Vector.Compress, embedder)
		a.store = a.chromem
	}
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	a.vectors = vector.NewService(a.store)
	return a, nil
}

func (a *app) Close() {
	if err := a.vectors.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing vector store")
	}
	if err := a.embedder.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing embedder")
	}
}

// newJobStore uses PostgreSQL when a DSN is configured.
func newJobStore(ctx context.Context, cfg *config.Config) (db.JobStore, error) {
	if cfg.Database.DSN == "" {
		log.Info().Msg("Keeping job records in memory")
		return db.NewMemoryJobStore(), nil
	}
	return db.NewPostgresJobStore(ctx, cfg.Database.DSN, cfg.Debug)
}
