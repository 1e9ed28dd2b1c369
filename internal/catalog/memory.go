// internal/catalog/memory.go
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type nameKey struct{ name, category string }

// MemoryStore keeps the catalog in process. One mutex serialises every
// mutation, which linearises Apply across all products.
type MemoryStore struct {
	mu         sync.RWMutex
	products   map[uuid.UUID]*Product
	byName     map[nameKey]uuid.UUID
	operations map[uuid.UUID][32]byte
	ledger     []LedgerEntry
	seq        int64
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[uuid.UUID]*Product),
		byName:     make(map[nameKey]uuid.UUID),
		operations: make(map[uuid.UUID][32]byte),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func keyOf(p *Product) nameKey {
	return nameKey{NormalizeKey(p.Name), NormalizeKey(p.Category)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Product) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := p.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(p)
	if _, taken := s.byName[key]; taken {
		return ErrDuplicateProduct
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now

	stored := *p
	s.products[p.ID] = &stored
	s.byName[key] = p.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetByName(ctx context.Context, name, category string) (*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[nameKey{NormalizeKey(name), NormalizeKey(category)}]
	if !ok {
		return nil, fmt.Errorf("%w: %s / %s", ErrNotFound, name, category)
	}
	cp := *s.products[id]
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryStore) UpdateDetails(ctx context.Context, id uuid.UUID, update DetailsUpdate) (*Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := *current
	if err := update.applyTo(&next); err != nil {
		return nil, err
	}

	oldKey, newKey := keyOf(current), keyOf(&next)
	if oldKey != newKey {
		if _, taken := s.byName[newKey]; taken {
			return nil, ErrDuplicateProduct
		}
		delete(s.byName, oldKey)
		s.byName[newKey] = id
	}
	next.Version++
	next.UpdatedAt = s.now()
	s.products[id] = &next

	cp := next
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, e := range s.ledger {
		if e.ProductID == id {
			return ErrProductReferenced
		}
	}
	delete(s.byName, keyOf(p))
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) Apply(ctx context.Context, op Operation) (*Applied, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fp := op.Fingerprint()
	if op.ID != uuid.Nil {
		if stored, done := s.operations[op.ID]; done {
			if stored != fp {
				return nil, ErrOperationConflict
			}
			return &Applied{Products: s.snapshot(op.productIDs()), Replayed: true}, nil
		}
	}

	// Check every adjustment before touching anything so a failure leaves
	// no partial state behind.
	for _, i := range op.applyOrder() {
		adj := op.Adjustments[i]
		p, ok := s.products[adj.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, adj.ProductID)
		}
		if err := exceedsCapacity(p.QuantityAvailable, adj.Delta); err != nil {
			return nil, err
		}
		if p.QuantityAvailable+adj.Delta < 0 {
			return nil, &InsufficientStockError{ProductID: p.ID, Requested: -adj.Delta, Available: p.QuantityAvailable}
		}
	}

	now := s.now()
	for _, i := range op.applyOrder() {
		adj := op.Adjustments[i]
		p := s.products[adj.ProductID]
		p.QuantityAvailable += adj.Delta
		p.Version++
		p.UpdatedAt = now

		s.seq++
		s.ledger = append(s.ledger, LedgerEntry{
			Seq:         s.seq,
			OperationID: op.ID,
			ProductID:   adj.ProductID,
			Reason:      adj.Reason,
			Delta:       adj.Delta,
			NewQuantity: p.QuantityAvailable,
			CreatedAt:   now,
		})
	}
	if op.ID != uuid.Nil {
		s.operations[op.ID] = fp
	}

	return &Applied{Products: s.snapshot(op.productIDs())}, nil
}

func (s *MemoryStore) snapshot(ids []uuid.UUID) []*Product {
	out := make([]*Product, len(ids))
	for i, id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			out[i] = &cp
		}
	}
	return out
}

func (s *MemoryStore) History(ctx context.Context, productID uuid.UUID, limit int) ([]LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].ProductID != productID {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Stream(ctx context.Context, afterSeq int64, batchSize int) ([]LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if batchSize > 0 && len(out) == batchSize {
			break
		}
	}
	return out, nil
}
