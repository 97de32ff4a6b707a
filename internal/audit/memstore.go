package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/ids"
)

// MemStore implements Store in process memory with concurrency safety.
// Suitable for development and tests; production uses PGStore.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]Record // principal id -> append order
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]Record)}
}

func (s *MemStore) Append(ctx context.Context, principalID string, rec *Record) error {
	if strings.TrimSpace(principalID) == "" || rec == nil {
		return fmt.Errorf("%w: principal id and record are required", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[principalID] = append(s.records[principalID], copyRecord(*rec))
	return nil
}

func (s *MemStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[principalID]
	if limit <= 0 || limit > len(stored) {
		limit = len(stored)
	}
	out := make([]Record, 0, limit)
	for _, rec := range stored[:limit] {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

// copyRecord detaches the reasons slice so stored records stay immutable.
func copyRecord(rec Record) Record {
	if len(rec.RiskReasons) > 0 {
		reasons := make([]string, len(rec.RiskReasons))
		copy(reasons, rec.RiskReasons)
		rec.RiskReasons = reasons
	}
	return rec
}
