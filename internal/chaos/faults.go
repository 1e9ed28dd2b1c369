// internal/chaos/faults.go
package chaos

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"quickbill/internal/catalog"
)

// Faults describes what a FaultyStore injects into Apply.
type Faults struct {
	// FailRate is the share of Apply calls that fail before reaching the
	// store.
	FailRate float64
	// LoseReplyRate is the share of calls that are applied but reported as
	// failed, like a reply dropped by the network.
	LoseReplyRate float64
	Latency       time.Duration
}

// FaultyStore wraps a catalog.Store and injects transient failures into
// Apply. Reads pass through untouched.
type FaultyStore struct {
	catalog.Store

	mu       sync.Mutex
	faults   Faults
	rnd      *rand.Rand
	injected int
}

func NewFaultyStore(store catalog.Store, seed uint64) *FaultyStore {
	return &FaultyStore{Store: store, rnd: rand.New(rand.NewPCG(seed, seed))}
}

func (s *FaultyStore) Inject(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *FaultyStore) Heal() { s.Inject(Faults{}) }

// Injected counts the failures reported so far.
func (s *FaultyStore) Injected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injected
}

func (s *FaultyStore) Apply(ctx context.Context, op catalog.Operation) (*catalog.Applied, error) {
	s.mu.Lock()
	f := s.faults
	failBefore := f.FailRate > 0 && s.rnd.Float64() < f.FailRate
	loseReply := !failBefore && f.LoseReplyRate > 0 && s.rnd.Float64() < f.LoseReplyRate
	if failBefore || loseReply {
		s.injected++
	}
	s.mu.Unlock()

	if f.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", catalog.ErrUnavailable, ctx.Err())
		case <-time.After(f.Latency):
		}
	}
	if failBefore {
		return nil, fmt.Errorf("%w: injected fault", catalog.ErrUnavailable)
	}
	applied, err := s.Store.Apply(ctx, op)
	if err == nil && loseReply {
		return nil, fmt.Errorf("%w: injected lost reply", catalog.ErrUnavailable)
	}
	return applied, err
}
