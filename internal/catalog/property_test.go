package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Any sequence of adjustments leaves the quantity equal to the initial stock
// plus the deltas that were accepted, and never below zero.
func TestQuantityNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		s := NewMemoryStore()
		initial := rapid.IntRange(0, 50).Draw(t, "initial")
		p := &Product{Name: "Rice", Category: "Grains", Price: decimal.NewFromInt(4), QuantityAvailable: initial}
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}

		deltas := rapid.SliceOfN(rapid.IntRange(-20, 20).Filter(func(d int) bool { return d != 0 }), 1, 40).Draw(t, "deltas")
		expected := initial
		for _, d := range deltas {
			updated, err := CompareAndApply(ctx, s, p.ID, d)
			switch {
			case err == nil:
				expected += d
				if updated.QuantityAvailable != expected {
					t.Fatalf("quantity %d, expected %d", updated.QuantityAvailable, expected)
				}
			case errors.Is(err, ErrInsufficientStock):
				if expected+d >= 0 {
					t.Fatalf("delta %d refused with %d available", d, expected)
				}
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}

		got, err := s.Get(ctx, p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.QuantityAvailable < 0 || got.QuantityAvailable != expected {
			t.Fatalf("final quantity %d, expected %d", got.QuantityAvailable, expected)
		}
	})
}

// Restocking n and then selling n returns to the starting quantity.
func TestRestockThenSaleRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		s := NewMemoryStore()
		initial := rapid.IntRange(0, 100).Draw(t, "initial")
		n := rapid.IntRange(1, 100).Draw(t, "n")
		p := &Product{Name: "Salt", Category: "Pantry", Price: decimal.NewFromInt(1), QuantityAvailable: initial}
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}

		if _, err := CompareAndApply(ctx, s, p.ID, n); err != nil {
			t.Fatalf("restock: %v", err)
		}
		after, err := CompareAndApply(ctx, s, p.ID, -n)
		if err != nil {
			t.Fatalf("sale: %v", err)
		}
		if after.QuantityAvailable != initial {
			t.Fatalf("quantity %d, expected %d", after.QuantityAvailable, initial)
		}
	})
}

// Applying the same identified operation any number of times changes the
// quantity exactly once.
func TestIdentifiedOperationAppliesOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		s := NewMemoryStore()
		p := &Product{Name: "Tea", Category: "Drinks", Price: decimal.NewFromInt(3), QuantityAvailable: 100}
		if err := s.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}

		delta := rapid.IntRange(-100, 100).Filter(func(d int) bool { return d != 0 }).Draw(t, "delta")
		repeats := rapid.IntRange(1, 10).Draw(t, "repeats")
		op := Operation{ID: uuid.New(), Adjustments: []Adjustment{{ProductID: p.ID, Delta: delta, Reason: ReasonCorrection}}}
		for i := 0; i < repeats; i++ {
			if _, err := s.Apply(ctx, op); err != nil {
				t.Fatalf("apply %d: %v", i, err)
			}
		}

		got, _ := s.Get(ctx, p.ID)
		if got.QuantityAvailable != 100+delta {
			t.Fatalf("quantity %d, expected %d", got.QuantityAvailable, 100+delta)
		}
		history, _ := s.History(ctx, p.ID, 0)
		if len(history) != 1 {
			t.Fatalf("ledger has %d entries, expected 1", len(history))
		}
	})
}
