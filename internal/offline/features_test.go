package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
)

type terminalTestContext struct {
	backend  *backend
	flaky    *flakySubmitter
	queue    *Queue
	runner   *Runner
	terminal *Terminal
	products map[string]uuid.UUID

	receipt Receipt
	err     error
	report  Report

	succeeded int
	refused   int
}

func (c *terminalTestContext) reset() error {
	c.backend = newBackend()
	c.flaky = newFlaky(c.backend.dispatcher())
	q, err := NewQueue(context.Background(), NewMemoryJournal(), c.flaky, zerolog.Nop())
	if err != nil {
		return err
	}
	c.queue = q
	c.runner = NewRunner(q, 0, zerolog.Nop())
	c.terminal = NewTerminal(c.backend.dispatcher(), q, c.runner, zerolog.Nop())
	c.products = make(map[string]uuid.UUID)
	c.receipt, c.err, c.report = Receipt{}, nil, Report{}
	c.succeeded, c.refused = 0, 0
	return nil
}

func (c *terminalTestContext) product(name string) (uuid.UUID, error) {
	id, ok := c.products[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown product %q", name)
	}
	return id, nil
}

func (c *terminalTestContext) aProductInWithUnits(name, category string, qty int) error {
	p := &catalog.Product{Name: name, Category: category, Price: decimal.NewFromInt(40), QuantityAvailable: qty}
	if err := c.backend.catalog.Create(context.Background(), p); err != nil {
		return err
	}
	c.products[name] = p.ID
	return nil
}

func (c *terminalTestContext) theTerminalIsOnline() error {
	c.runner.SetOnline(true)
	return nil
}

func (c *terminalTestContext) theTerminalIsOffline() error {
	c.runner.SetOnline(false)
	return nil
}

func (c *terminalTestContext) iSellUnitsOf(qty int, name string) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	c.receipt, c.err = c.terminal.RecordSale(context.Background(), id, qty)
	return nil
}

func (c *terminalTestContext) iRestockUnitsOf(qty int, name string) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	c.receipt, c.err = c.terminal.RecordRestock(context.Background(), id, qty)
	return c.err
}

func (c *terminalTestContext) iCorrectBy(name string, delta int) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	c.receipt, c.err = c.terminal.RecordDelta(context.Background(), id, delta)
	return nil
}

func (c *terminalTestContext) iBillUnitsOfTo(qty int, name, customer string) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	c.receipt, c.err = c.terminal.CreateBill(context.Background(), customer,
		[]billing.LineRequest{{ProductID: id, Quantity: qty}})
	return c.err
}

func (c *terminalTestContext) theSaleSucceedsWithUnitsLeft(qty int) error {
	if c.err != nil {
		return fmt.Errorf("sale failed: %w", c.err)
	}
	if c.receipt.Status != StatusCommitted || c.receipt.Result == nil {
		return fmt.Errorf("expected a committed sale, got %q", c.receipt.Status)
	}
	if c.receipt.Result.NewQuantity != qty {
		return fmt.Errorf("expected %d units left, got %d", qty, c.receipt.Result.NewQuantity)
	}
	return nil
}

func (c *terminalTestContext) theSaleIsRefusedBecauseOnlyUnitsAreAvailable(qty int) error {
	var insufficient *catalog.InsufficientStockError
	if !errors.As(c.err, &insufficient) {
		return fmt.Errorf("expected insufficient stock, got %v", c.err)
	}
	if insufficient.Available != qty {
		return fmt.Errorf("expected %d available, got %d", qty, insufficient.Available)
	}
	return nil
}

func (c *terminalTestContext) hasUnits(name string, qty int) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	p, err := c.backend.catalog.Get(context.Background(), id)
	if err != nil {
		return err
	}
	if p.QuantityAvailable != qty {
		return fmt.Errorf("%s: expected %d units, got %d", name, qty, p.QuantityAvailable)
	}
	return nil
}

func (c *terminalTestContext) terminalsEachSellUnitOfAtTheSameTime(terminals, qty int, name string) error {
	id, err := c.product(name)
	if err != nil {
		return err
	}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		other error
	)
	start := make(chan struct{})
	for i := 0; i < terminals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.backend.engine.RecordSale(context.Background(), uuid.New(), id, qty)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				c.succeeded++
			case errors.Is(err, catalog.ErrInsufficientStock):
				c.refused++
			default:
				other = err
			}
		}()
	}
	close(start)
	wg.Wait()
	return other
}

func (c *terminalTestContext) salesSucceedAndAreRefused(succeeded, refused int) error {
	if c.succeeded != succeeded || c.refused != refused {
		return fmt.Errorf("expected %d/%d, got %d succeeded and %d refused", succeeded, refused, c.succeeded, c.refused)
	}
	return nil
}

func (c *terminalTestContext) operationsAreQueued(n int) error {
	if c.err != nil {
		return c.err
	}
	ops, err := c.queue.Pending(context.Background())
	if err != nil {
		return err
	}
	if len(ops) != n {
		return fmt.Errorf("expected %d queued operations, got %d", n, len(ops))
	}
	return nil
}

func (c *terminalTestContext) theReplyToTheNextReplayIsLost() error {
	ops, err := c.queue.Pending(context.Background())
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return errors.New("nothing queued")
	}
	c.flaky.failAfter = true
	c.flaky.failNext(ops[0].OperationID, 1)
	return nil
}

func (c *terminalTestContext) theTerminalReconnectsAndDrainsTheQueue() error {
	c.runner.SetOnline(true)
	return c.theTerminalDrainsTheQueueAgain()
}

func (c *terminalTestContext) theTerminalDrainsTheQueueAgain() error {
	report, err := c.queue.Drain(context.Background())
	c.report = report
	return err
}

func (c *terminalTestContext) queuedOperationIsCommitted(n int) error {
	if len(c.report.Committed) != n {
		return fmt.Errorf("expected %d committed, got %d", n, len(c.report.Committed))
	}
	return nil
}

func (c *terminalTestContext) queuedOperationIsDeferred(n int) error {
	if len(c.report.Deferred) != n {
		return fmt.Errorf("expected %d deferred, got %d", n, len(c.report.Deferred))
	}
	return nil
}

func (c *terminalTestContext) queuedOperationIsRejectedWith(n int, message string) error {
	if len(c.report.Rejected) != n {
		return fmt.Errorf("expected %d rejected, got %d", n, len(c.report.Rejected))
	}
	for _, rej := range c.report.Rejected {
		if rej.Message != message {
			return fmt.Errorf("expected rejection %q, got %q", message, rej.Message)
		}
	}
	return nil
}

func (c *terminalTestContext) theQueueIsEmpty() error {
	return c.operationsAreQueued(0)
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &terminalTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})

	// Given steps
	ctx.Step(`^a product "([^"]*)" in "([^"]*)" with (\d+) units$`, tc.aProductInWithUnits)
	ctx.Step(`^the terminal is online$`, tc.theTerminalIsOnline)
	ctx.Step(`^the terminal is offline$`, tc.theTerminalIsOffline)

	// When steps
	ctx.Step(`^I sell (\d+) units of "([^"]*)"$`, tc.iSellUnitsOf)
	ctx.Step(`^I restock (\d+) units of "([^"]*)"$`, tc.iRestockUnitsOf)
	ctx.Step(`^I correct "([^"]*)" by (-?\d+)$`, tc.iCorrectBy)
	ctx.Step(`^I bill (\d+) units of "([^"]*)" to "([^"]*)"$`, tc.iBillUnitsOfTo)
	ctx.Step(`^(\d+) terminals each sell (\d+) unit of "([^"]*)" at the same time$`, tc.terminalsEachSellUnitOfAtTheSameTime)
	ctx.Step(`^the reply to the next replay is lost$`, tc.theReplyToTheNextReplayIsLost)
	ctx.Step(`^the terminal reconnects and drains the queue$`, tc.theTerminalReconnectsAndDrainsTheQueue)
	ctx.Step(`^the terminal drains the queue again$`, tc.theTerminalDrainsTheQueueAgain)

	// Then steps
	ctx.Step(`^the sale succeeds with (\d+) units left$`, tc.theSaleSucceedsWithUnitsLeft)
	ctx.Step(`^the (?:sale|adjustment) is refused because only (\d+) units are available$`, tc.theSaleIsRefusedBecauseOnlyUnitsAreAvailable)
	ctx.Step(`^"([^"]*)" has (\d+) units$`, tc.hasUnits)
	ctx.Step(`^(\d+) sales succeed and (\d+) are refused$`, tc.salesSucceedAndAreRefused)
	ctx.Step(`^(\d+) operations are queued$`, tc.operationsAreQueued)
	ctx.Step(`^(\d+) queued operations? (?:is|are) committed$`, tc.queuedOperationIsCommitted)
	ctx.Step(`^(\d+) queued operations? (?:is|are) deferred$`, tc.queuedOperationIsDeferred)
	ctx.Step(`^(\d+) queued operations? (?:is|are) rejected with "([^"]*)"$`, tc.queuedOperationIsRejectedWith)
	ctx.Step(`^the queue is empty$`, tc.theQueueIsEmpty)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/stock.feature", "../../features/offline.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
