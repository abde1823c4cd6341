package embedding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"knowledge-api/internal/config"
)

var (
	ErrUnknownProvider = errors.New("unknown embedding provider")
	ErrEmptyInput      = errors.New("embedding input is empty")
)

// Provider is an embedder that may hold local resources (model sessions).
type Provider interface {
	embeddings.Embedder
	Close() error
}

// New picks the embedding backend once at startup.
func New(cfg config.EmbeddingConfig, openAIKey string) (Provider, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"model":    cfg.Model,
		"base_url": cfg.BaseURL,
	}).Msg("Loading embedding model")

	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedder(cfg.Model, cfg.CacheDir)
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model)
	case "openai":
		return NewOpenAIEmbedder(openAIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// new ollama embedder
func NewOllamaEmbedder(baseURL, model string) (Provider, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing ollama: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return remote{embedder}, nil
}

// NewOpenAIEmbedder works with any OpenAI-compatible endpoint.
func NewOpenAIEmbedder(token, baseURL, model string) (Provider, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(token, "Bearer ")),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing openai: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return remote{embedder}, nil
}

// remote wraps HTTP-backed embedders, which hold nothing to release.
type remote struct {
	*embeddings.EmbedderImpl
}

func (remote) Close() error { return nil }
