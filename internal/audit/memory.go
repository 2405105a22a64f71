package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the chain in process memory. Used in tests and in
// single-node deployments without Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := uint64(len(s.records)) + 1
	if rec.Seq != want {
		return fmt.Errorf("audit: sequence gap, want %d got %d", want, rec.Seq)
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) Last(_ context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil, ErrEmpty
	}
	rec := s.records[len(s.records)-1]
	return &rec, nil
}

func (s *MemoryStore) Read(_ context.Context, fromSeq, toSeq uint64) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Seq >= fromSeq && rec.Seq <= toSeq {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
