package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"knowledge-api/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// JobStore records the progress of background ingestion jobs.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Close() error
}

// MemoryJobStore is the default store; records are lost on restart.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]models.Job{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

// Get returns a copy, so callers may modify it freely.
func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) Update(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Close() error { return nil }
