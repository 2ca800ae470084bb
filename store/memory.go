package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"gifconv/models"
)

// MemoryStore keeps job records in process memory. It backs tests and
// single-instance deployments; durable deployments use PostgresStore.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]models.JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.JobRecord)}
}

func (s *MemoryStore) Create(_ context.Context, record models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[record.ID]; ok {
		return ErrDuplicateJob
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	s.jobs[record.ID] = record
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd Update) (models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return models.JobRecord{}, ErrUnknownJob
	}

	next := merge(current, upd)
	s.jobs[id] = next
	return next, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]models.JobRecord, 0, len(s.jobs))
	for _, record := range s.jobs {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}
