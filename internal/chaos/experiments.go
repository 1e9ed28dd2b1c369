// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quickbill/internal/catalog"
	"quickbill/internal/offline"
	"quickbill/internal/stock"
)

// Fixture is a product seeded for an experiment together with the metrics
// that judge it.
type Fixture struct {
	Store   catalog.Store
	Product uuid.UUID
	Initial int
}

// Seed creates a product named after the experiment so repeated runs
// against the same database do not collide.
func Seed(ctx context.Context, store catalog.Store, name string, initial int) (*Fixture, error) {
	p := &catalog.Product{
		Name:              fmt.Sprintf("%s %s", name, uuid.NewString()[:8]),
		Category:          "chaos",
		Price:             decimal.NewFromInt(1),
		QuantityAvailable: initial,
	}
	if err := store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("seed %s: %w", name, err)
	}
	return &Fixture{Store: store, Product: p.ID, Initial: initial}, nil
}

func (f *Fixture) ledger(ctx context.Context) ([]catalog.LedgerEntry, error) {
	var out []catalog.LedgerEntry
	var after int64
	for {
		batch, err := f.Store.Stream(ctx, after, 500)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return out, nil
		}
		for _, e := range batch {
			if e.ProductID == f.Product {
				out = append(out, e)
			}
		}
		after = batch[len(batch)-1].Seq
	}
}

// Quantity is the current stock level.
func (f *Fixture) Quantity(ctx context.Context) (float64, error) {
	p, err := f.Store.Get(ctx, f.Product)
	if err != nil {
		return 0, err
	}
	return float64(p.QuantityAvailable), nil
}

// Drift is the gap between the stock level and the initial stock plus every
// ledgered delta. Anything but zero means a lost or phantom update.
func (f *Fixture) Drift(ctx context.Context) (float64, error) {
	p, err := f.Store.Get(ctx, f.Product)
	if err != nil {
		return 0, err
	}
	entries, err := f.ledger(ctx)
	if err != nil {
		return 0, err
	}
	expected := f.Initial
	for _, e := range entries {
		expected += e.Delta
	}
	return math.Abs(float64(p.QuantityAvailable - expected)), nil
}

// Duplicates counts operation IDs that were ledgered more than once.
func (f *Fixture) Duplicates(ctx context.Context) (float64, error) {
	entries, err := f.ledger(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[uuid.UUID]int)
	dupes := 0
	for _, e := range entries {
		if e.OperationID == uuid.Nil {
			continue
		}
		seen[e.OperationID]++
		if seen[e.OperationID] == 2 {
			dupes++
		}
	}
	return float64(dupes), nil
}

func (f *Fixture) metrics() []Metric {
	return []Metric{
		{Name: "stock_level", Query: f.Quantity, Threshold: Threshold{Operator: ">=", Value: 0}},
		{Name: "ledger_drift", Query: f.Drift, Threshold: Threshold{Operator: "==", Value: 0}},
		{Name: "duplicate_operations", Query: f.Duplicates, Threshold: Threshold{Operator: "==", Value: 0}},
	}
}

func invariants() []Assertion {
	return []Assertion{
		{Metric: "stock_level", Condition: func(v float64) bool { return v >= 0 }, Message: "stock must never go negative"},
		{Metric: "ledger_drift", Condition: func(v float64) bool { return v == 0 }, Message: "stock must equal initial plus ledgered deltas"},
		{Metric: "duplicate_operations", Condition: func(v float64) bool { return v == 0 }, Message: "no operation may be applied twice"},
	}
}

// ContentionExperiment fires buyers concurrent single-unit sales at one
// product holding fewer units than buyers.
func ContentionExperiment(f *Fixture, recorder stock.Recorder, buyers int, sold *atomic.Int64) Experiment {
	return Experiment{
		Name:        "concurrent-sale-contention",
		Hypothesis:  "Concurrent sales of the last units never oversell",
		SteadyState: f.metrics(),
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "stock-engine",
			Execute: func(ctx context.Context) error {
				var wg sync.WaitGroup
				var unexpected atomic.Int64
				start := make(chan struct{})
				for i := 0; i < buyers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, err := recorder.RecordSale(ctx, uuid.New(), f.Product, 1)
						switch {
						case err == nil:
							sold.Add(1)
						case errors.Is(err, catalog.ErrInsufficientStock):
						default:
							unexpected.Add(1)
						}
					}()
				}
				close(start)
				wg.Wait()
				if n := unexpected.Load(); n > 0 {
					return fmt.Errorf("%d sales failed unexpectedly", n)
				}
				return nil
			},
		}},
		Validation: invariants(),
		Duration:   2 * time.Second,
	}
}

// FlakyStoreExperiment drains an offline backlog while the store drops
// requests and replies, then heals the store and drains the rest.
func FlakyStoreExperiment(f *Fixture, faulty *FaultyStore, sales int, logger zerolog.Logger) (Experiment, error) {
	engine := stock.NewEngine(faulty, logger)
	queue, err := offline.NewQueue(context.Background(), offline.NewMemoryJournal(), offline.Dispatcher{Stock: engine}, logger)
	if err != nil {
		return Experiment{}, err
	}

	drainAll := func(ctx context.Context) error {
		for i := 0; i < 10*sales+1; i++ {
			if _, err := queue.Drain(ctx); err != nil {
				return err
			}
			pending, err := queue.Pending(ctx)
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				return nil
			}
		}
		return errors.New("offline queue did not empty")
	}

	return Experiment{
		Name:        "flaky-stock-store",
		Hypothesis:  "Replaying through dropped requests and lost replies applies every sale exactly once",
		SteadyState: f.metrics(),
		Method: []Action{
			{
				Type:   "inject-faults",
				Target: "catalog-store",
				Execute: func(context.Context) error {
					faulty.Inject(Faults{FailRate: 0.3, LoseReplyRate: 0.3})
					return nil
				},
			},
			{
				Type:   "offline-backlog",
				Target: "offline-queue",
				Execute: func(ctx context.Context) error {
					for i := 0; i < sales; i++ {
						_, err := queue.Enqueue(ctx, offline.PendingOperation{
							Kind:       offline.KindAdjustment,
							Adjustment: &offline.AdjustmentPayload{ProductID: f.Product, Reason: catalog.ReasonSale, Amount: 1},
						})
						if err != nil {
							return err
						}
					}
					_, err := queue.Drain(ctx)
					return err
				},
			},
		},
		Rollback: []Action{{
			Type:   "heal",
			Target: "catalog-store",
			Execute: func(ctx context.Context) error {
				faulty.Heal()
				return drainAll(ctx)
			},
		}},
		Validation: invariants(),
		Duration:   2 * time.Second,
	}, nil
}

// OfflineReplayExperiment queues more sales than there is stock while the
// terminal is offline and replays them on reconnect.
func OfflineReplayExperiment(f *Fixture, recorder stock.Recorder, sales int, rejected *atomic.Int64, logger zerolog.Logger) (Experiment, error) {
	queue, err := offline.NewQueue(context.Background(), offline.NewMemoryJournal(), offline.Dispatcher{Stock: recorder}, logger,
		offline.WithOnRejected(func(offline.Rejection) { rejected.Add(1) }))
	if err != nil {
		return Experiment{}, err
	}

	return Experiment{
		Name:        "offline-replay",
		Hypothesis:  "Sales queued offline replay in order and surplus sales are rejected, not oversold",
		SteadyState: f.metrics(),
		Method: []Action{
			{
				Type:   "go-offline",
				Target: "terminal",
				Execute: func(ctx context.Context) error {
					for i := 0; i < sales; i++ {
						_, err := queue.Enqueue(ctx, offline.PendingOperation{
							Kind:       offline.KindAdjustment,
							Adjustment: &offline.AdjustmentPayload{ProductID: f.Product, Reason: catalog.ReasonSale, Amount: 1},
						})
						if err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Type:   "reconnect",
				Target: "terminal",
				Execute: func(ctx context.Context) error {
					_, err := queue.Drain(ctx)
					return err
				},
			},
		},
		Validation: invariants(),
		Duration:   2 * time.Second,
	}, nil
}
