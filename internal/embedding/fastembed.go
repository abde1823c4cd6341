//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var fastembedModels = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"all-MiniLM-L6-v2":                       fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
}

// FastEmbedder runs a sentence-transformer model locally through ONNX.
type FastEmbedder struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
}

func NewFastEmbedder(model, cacheDir string) (Provider, error) {
	m, ok := fastembedModels[model]
	if !ok {
		return nil, fmt.Errorf("%w: fastembed model %q", ErrUnknownProvider, model)
	}
	if cacheDir == "" {
		cacheDir = "local_cache"
	}
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                m,
		CacheDir:             cacheDir,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}
	return &FastEmbedder{model: flag}, nil
}

func (f *FastEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// onnx sessions are not safe for concurrent runs
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model.PassageEmbed(texts, 256)
}

func (f *FastEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model.QueryEmbed(text)
}

func (f *FastEmbedder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model == nil {
		return nil
	}
	err := f.model.Destroy()
	f.model = nil
	return err
}
