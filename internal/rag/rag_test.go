package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-api/internal/config"
	"knowledge-api/internal/models"
)

type recordingRetriever struct {
	gotText string
	gotN    int
	err     error
}

func (r *recordingRetriever) Query(_ context.Context, text string, n int) ([]models.SearchResult, error) {
	r.gotText, r.gotN = text, n
	if r.err != nil {
		return nil, r.err
	}
	return []models.SearchResult{{ID: "a.pdf_0", Content: "hit"}}, nil
}

func intPtr(v int) *int { return &v }

func newRAG(r Retriever) *RAG {
	return NewRAG(r, config.SearchConfig{DefaultLimit: 3, MaxLimit: 50})
}

func TestSearchDefaultLimit(t *testing.T) {
	ret := &recordingRetriever{}
	res, err := newRAG(ret).Search(context.Background(), "what is revenue", nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, 3, ret.gotN)
	assert.Equal(t, "what is revenue", ret.gotText)
}

func TestSearchEmptyQuery(t *testing.T) {
	ret := &recordingRetriever{}
	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := newRAG(ret).Search(context.Background(), q, nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
	assert.Zero(t, ret.gotN)
}

func TestSearchLimits(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
		err   error
	}{
		{"explicit", 7, 7, nil},
		{"clamped", 500, 50, nil},
		{"zero", 0, 0, ErrInvalidLimit},
		{"negative", -2, 0, ErrInvalidLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := &recordingRetriever{}
			_, err := newRAG(ret).Search(context.Background(), "q", intPtr(tt.limit))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ret.gotN)
		})
	}
}

func TestSearchPropagatesStoreError(t *testing.T) {
	_, err := newRAG(&recordingRetriever{err: errors.New("index offline")}).Search(context.Background(), "q", nil)
	assert.ErrorContains(t, err, "index offline")
}
