package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/expense-review-bot/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It keeps at most limit jobs, evicting the oldest first. Data is lost on
// restart.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*jobs.SecondaryWriteJob
	order []string
	limit int
}

// NewStore creates a new in-memory job store. A limit of 0 keeps every job.
func NewStore(limit int) *Store {
	return &Store{
		jobs:  make(map[string]*jobs.SecondaryWriteJob),
		limit: limit,
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.SecondaryWriteJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; !exists {
		s.order = append(s.order, job.JobID)
	}
	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy

	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.SecondaryWriteJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("GetJob %s: %w", jobID, jobs.ErrNotFound)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface. Newest jobs come first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.SecondaryWriteJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.SecondaryWriteJob

	for _, job := range s.jobs {
		if filter.Sink != "" && job.Sink != filter.Sink {
			continue
		}
		if filter.TransactionID != "" && job.TransactionID != filter.TransactionID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.SecondaryWriteJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("UpdateJobStatus %s: %w", jobID, jobs.ErrNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}

	return nil
}

var _ jobs.JobStore = (*Store)(nil)
