// cmd/terminal/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"quickbill/internal/billing"
	"quickbill/internal/catalog"
	"quickbill/internal/clients"
	"quickbill/internal/offline"
	"quickbill/internal/platform/config"
	"quickbill/internal/platform/logging"
)

const usage = `Usage: terminal [flags] <command> [args]

Commands:
  sale <product-id> <qty>                 record a sale
  restock <product-id> <qty>              record a delivery
  adjust <product-id> <delta>             record a signed correction
  bill <customer> <product-id:qty>...     bill a customer
  lookup <name> <category>                find a product
  pending                                 list queued operations
  drain                                   replay queued operations now
  discard <operation-id>                  drop a queued operation
  run                                     keep draining while the services are reachable

Flags:
`

type app struct {
	stock    *clients.StockClient
	billing  *clients.BillingClient
	queue    *offline.Queue
	runner   *offline.Runner
	terminal *offline.Terminal
	logger   zerolog.Logger
	probe    time.Duration
}

func main() {
	cfg := config.Load("terminal", "")

	fs := flag.NewFlagSet("terminal", flag.ContinueOnError)
	catalogURL := fs.String("catalog-url", cfg.CatalogURL, "catalog service base URL")
	billingURL := fs.String("billing-url", cfg.BillingURL, "billing service base URL")
	journalPath := fs.StringP("journal", "j", cfg.JournalPath, "path of the offline journal")
	forceOffline := fs.Bool("offline", false, "queue everything without contacting the services")
	timeout := fs.Duration("timeout", cfg.ClientTimeout, "per-request timeout")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level")
	pretty := fs.Bool("pretty", true, "human readable logs on stderr")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	logger := logging.InitWriter(os.Stderr, cfg.ServiceName, *logLevel, *pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, *catalogURL, *billingURL, *journalPath, *timeout, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start terminal")
	}
	if !*forceOffline {
		a.runner.SetOnline(a.reachable(ctx))
	}

	if err := a.exec(ctx, args[0], args[1:]); err != nil {
		var insufficient *catalog.InsufficientStockError
		if errors.As(err, &insufficient) {
			fmt.Fprintln(os.Stderr, insufficient.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg config.Config, catalogURL, billingURL, journalPath string, timeout time.Duration, logger zerolog.Logger) (*app, error) {
	opts := clients.Options{
		Timeout:         timeout,
		BreakerFailures: cfg.BreakerFailures,
		OpenPeriod:      cfg.BreakerOpenPeriod,
		Logger:          logger,
	}
	stockClient := clients.NewStockClient(catalogURL, opts)
	billingClient := clients.NewBillingClient(billingURL, opts)

	journal, err := offline.OpenFileJournal(journalPath)
	if err != nil {
		return nil, err
	}
	dispatcher := offline.Dispatcher{Stock: stockClient, Bills: billingClient}
	queue, err := offline.NewQueue(ctx, journal, dispatcher, logger,
		offline.WithRateLimit(cfg.DrainRatePerSec, cfg.DrainBurst),
		offline.WithOnRejected(func(r offline.Rejection) {
			fmt.Fprintf(os.Stderr, "queued operation %s rejected: %s\n", r.Operation.OperationID, r.Message)
		}),
	)
	if err != nil {
		return nil, err
	}
	runner := offline.NewRunner(queue, cfg.DrainRetryEvery, logger)

	return &app{
		stock:    stockClient,
		billing:  billingClient,
		queue:    queue,
		runner:   runner,
		terminal: offline.NewTerminal(dispatcher, queue, runner, logger),
		logger:   logger,
		probe:    cfg.DrainRetryEvery,
	}, nil
}

func (a *app) reachable(ctx context.Context) bool {
	if err := a.stock.Ping(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("catalog service unreachable")
		return false
	}
	if err := a.billing.Ping(ctx); err != nil {
		a.logger.Debug().Err(err).Msg("billing service unreachable")
		return false
	}
	return true
}

func (a *app) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "sale", "restock", "adjust":
		if len(args) != 2 {
			return fmt.Errorf("%s needs <product-id> <amount>", cmd)
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid product id: %w", err)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		var receipt offline.Receipt
		switch cmd {
		case "sale":
			receipt, err = a.terminal.RecordSale(ctx, id, n)
		case "restock":
			receipt, err = a.terminal.RecordRestock(ctx, id, n)
		default:
			receipt, err = a.terminal.RecordDelta(ctx, id, n)
		}
		if err != nil {
			return err
		}
		return printJSON(receipt)

	case "bill":
		if len(args) < 2 {
			return errors.New("bill needs <customer> <product-id:qty>...")
		}
		lines, err := parseLines(args[1:])
		if err != nil {
			return err
		}
		receipt, err := a.terminal.CreateBill(ctx, args[0], lines)
		if err != nil {
			return err
		}
		return printJSON(receipt)

	case "lookup":
		if len(args) != 2 {
			return errors.New("lookup needs <name> <category>")
		}
		p, err := a.stock.LookupProduct(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(p)

	case "pending":
		ops, err := a.queue.Pending(ctx)
		if err != nil {
			return err
		}
		return printJSON(ops)

	case "drain":
		if !a.runner.Online() {
			return errors.New("services unreachable, nothing replayed")
		}
		report, err := a.queue.Drain(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)

	case "discard":
		if len(args) != 1 {
			return errors.New("discard needs <operation-id>")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid operation id: %w", err)
		}
		return a.queue.Discard(ctx, id)

	case "run":
		return a.run(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// run drains in the background and probes connectivity until interrupted.
func (a *app) run(ctx context.Context) error {
	a.runner.OnDrain(func(r offline.Report) {
		_ = printJSON(r)
	})
	go a.runner.Run(ctx)

	every := a.probe
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.runner.SetOnline(a.reachable(ctx))
		}
	}
}

func parseLines(args []string) ([]billing.LineRequest, error) {
	lines := make([]billing.LineRequest, 0, len(args))
	for _, arg := range args {
		idPart, qtyPart, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("line %q: want <product-id:qty>", arg)
		}
		id, err := uuid.Parse(idPart)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", arg, err)
		}
		qty, err := strconv.Atoi(qtyPart)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", arg, err)
		}
		lines = append(lines, billing.LineRequest{ProductID: id, Quantity: qty})
	}
	return lines, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
