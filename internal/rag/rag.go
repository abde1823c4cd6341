package rag

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"knowledge-api/internal/config"
	"knowledge-api/internal/metrics"
	"knowledge-api/internal/models"
)

var (
	ErrEmptyQuery   = errors.New(models.EmptyQueryDetail)
	ErrInvalidLimit = errors.New(models.InvalidLimitDetail)
)

type Retriever interface {
	Query(ctx context.Context, text string, n int) ([]models.SearchResult, error)
}

type RAG struct {
	retriever Retriever
	cfg       config.SearchConfig
}

func NewRAG(retriever Retriever, cfg config.SearchConfig) *RAG {
	return &RAG{retriever: retriever, cfg: cfg}
}

// Search returns the nearest chunks for query. A nil limit means the
// configured default; limits above the configured maximum are clamped.
func (r *RAG) Search(ctx context.Context, query string, limit *int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		metrics.Searches.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyQuery
	}

	n := r.cfg.DefaultLimit
	if limit != nil {
		n = *limit
	}
	if n < 1 {
		metrics.Searches.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidLimit
	}
	if r.cfg.MaxLimit > 0 && n > r.cfg.MaxLimit {
		log.Debug().Int("requested", n).Int("max", r.cfg.MaxLimit).Msg("Clamping search limit")
		n = r.cfg.MaxLimit
	}

	results, err := r.retriever.Query(ctx, query, n)
	if err != nil {
		metrics.Searches.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("Search failed")
		return nil, err
	}
	metrics.Searches.WithLabelValues("ok").Inc()
	log.Debug().Str("query", query).Int("results", len(results)).Msg("Search complete")
	return results, nil
}
