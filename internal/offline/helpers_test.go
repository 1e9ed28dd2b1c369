package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/stock"
)

var errNetwork = fmt.Errorf("%w: network unreachable", catalog.ErrUnavailable)

// backend is an in-process stock service with a switchable network.
type backend struct {
	catalog *catalog.MemoryStore
	engine  *stock.Engine
	bills   *billing.Service
}

func newBackend() *backend {
	store := catalog.NewMemoryStore()
	engine := stock.NewEngine(store, zerolog.Nop())
	return &backend{
		catalog: store,
		engine:  engine,
		bills:   billing.NewService(billing.NewMemoryStore(), billing.LocalStock{Engine: engine}, zerolog.Nop()),
	}
}

func (b *backend) product(t testing.TB, name string, qty int) uuid.UUID {
	t.Helper()
	p := &catalog.Product{Name: name, Category: "Dairy", Price: decimal.NewFromInt(50), QuantityAvailable: qty}
	require.NoError(t, b.catalog.Create(context.Background(), p))
	return p.ID
}

func (b *backend) quantity(t testing.TB, id uuid.UUID) int {
	t.Helper()
	p, err := b.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return p.QuantityAvailable
}

func (b *backend) dispatcher() Dispatcher {
	return Dispatcher{Stock: b.engine, Bills: b.bills}
}

// flakySubmitter fails chosen operations with a transient error before
// handing them to next. failAfter makes the failure happen after next has
// already applied the operation, like a response lost on the way back.
type flakySubmitter struct {
	mu        sync.Mutex
	next      Submitter
	failures  map[uuid.UUID]int
	failAfter bool
	down      bool
	calls     []uuid.UUID
}

func newFlaky(next Submitter) *flakySubmitter {
	return &flakySubmitter{next: next, failures: make(map[uuid.UUID]int)}
}

func (f *flakySubmitter) failNext(opID uuid.UUID, times int) {
	f.mu.Lock()
	f.failures[opID] = times
	f.mu.Unlock()
}

func (f *flakySubmitter) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakySubmitter) Submit(ctx context.Context, op PendingOperation) error {
	f.mu.Lock()
	f.calls = append(f.calls, op.OperationID)
	fail := f.down || f.failures[op.OperationID] > 0
	if f.failures[op.OperationID] > 0 {
		f.failures[op.OperationID]--
	}
	after := f.failAfter
	f.mu.Unlock()

	if fail && !after {
		return errNetwork
	}
	err := f.next.Submit(ctx, op)
	if fail {
		return errNetwork
	}
	return err
}

func (f *flakySubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sale(productID uuid.UUID, qty int) PendingOperation {
	return PendingOperation{
		Kind:       KindAdjustment,
		Adjustment: &AdjustmentPayload{ProductID: productID, Reason: catalog.ReasonSale, Amount: qty},
	}
}

func newTestQueue(t testing.TB, journal Journal, submitter Submitter, opts ...Option) *Queue {
	t.Helper()
	q, err := NewQueue(context.Background(), journal, submitter, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return q
}
