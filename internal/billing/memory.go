// internal/billing/memory.go
package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps bills in maps. Deleted bills leave their operation ID
// behind in byOp so the operation cannot be billed twice.
type MemoryStore struct {
	mu      sync.RWMutex
	bills   map[uuid.UUID]*Bill
	byOp    map[uuid.UUID]uuid.UUID
	deleted map[uuid.UUID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bills:   make(map[uuid.UUID]*Bill),
		byOp:    make(map[uuid.UUID]uuid.UUID),
		deleted: make(map[uuid.UUID]struct{}),
	}
}

func copyBill(b *Bill) *Bill {
	cp := *b
	cp.Lines = append(LineItems(nil), b.Lines...)
	return &cp
}

func (s *MemoryStore) Create(ctx context.Context, b *Bill) error {
	if err := ctx.Err(); err != nil {
		return unavailable("bill store", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byOp[b.OperationID]; taken {
		return ErrDuplicateBill
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.bills[b.ID] = copyBill(b)
	s.byOp[b.OperationID] = b.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("bill store", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bills[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBillNotFound, id)
	}
	return copyBill(b), nil
}

func (s *MemoryStore) GetByOperation(ctx context.Context, opID uuid.UUID) (*Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("bill store", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOp[opID]
	if !ok {
		return nil, fmt.Errorf("%w: operation %s", ErrBillNotFound, opID)
	}
	if _, gone := s.deleted[id]; gone {
		return nil, fmt.Errorf("%w: operation %s", ErrBillDeleted, opID)
	}
	return copyBill(s.bills[id]), nil
}

func (s *MemoryStore) List(ctx context.Context, since time.Time) ([]*Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("bill store", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if b.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copyBill(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return unavailable("bill store", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bills[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBillNotFound, id)
	}
	delete(s.bills, id)
	s.deleted[id] = struct{}{}
	return nil
}
