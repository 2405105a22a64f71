package fraud

import (
	"context"
	"sync"
	"time"
)

// Scored pairs a transaction with its prediction.
type Scored struct {
	Transaction Transaction `json:"transaction"`
	Prediction  Prediction  `json:"prediction"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TransactionStore holds scored transactions for the read surface.
type TransactionStore interface {
	Insert(ctx context.Context, s Scored) error
	List(ctx context.Context, limit int) ([]Scored, error)
}

// MemoryTransactionStore is a bounded in-memory ring: the read endpoints
// serve recent activity, durable history belongs to the warehouse.
type MemoryTransactionStore struct {
	mu    sync.RWMutex
	items []Scored
	max   int
}

func NewMemoryTransactionStore(max int) *MemoryTransactionStore {
	if max <= 0 {
		max = 10000
	}
	return &MemoryTransactionStore{max: max}
}

func (s *MemoryTransactionStore) Insert(_ context.Context, sc Scored) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, sc)
	if len(s.items) > s.max {
		s.items = s.items[len(s.items)-s.max:]
	}
	return nil
}

// List returns the most recent items, newest first.
func (s *MemoryTransactionStore) List(_ context.Context, limit int) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.items) {
		limit = len(s.items)
	}
	out := make([]Scored, 0, limit)
	for i := len(s.items) - 1; i >= len(s.items)-limit; i-- {
		out = append(out, s.items[i])
	}
	return out, nil
}

var _ TransactionStore = (*MemoryTransactionStore)(nil)
