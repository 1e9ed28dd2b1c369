// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const productColumns = `id, name, category, price, quantity_available, tax_rate, version, created_at, updated_at`

// PostgresStore is the durable Store. Each Apply runs in a single
// transaction; the quantity guard lives in the UPDATE predicate so the check
// and the write cannot be separated by a concurrent sale.
type PostgresStore struct {
	db       *sqlx.DB
	tracer   trace.Tracer
	timeout  time.Duration
	maxTries uint
}

// NewPostgresStore wraps an open database. timeout bounds every store call.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PostgresStore{
		db:       db,
		tracer:   otel.Tracer("quickbill/catalog"),
		timeout:  timeout,
		maxTries: 3,
	}
}

func (s *PostgresStore) Create(ctx context.Context, p *Product) error {
	if err := p.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Name, p.Category = strings.TrimSpace(p.Name), strings.TrimSpace(p.Category)

	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (id, name, category, name_key, category_key, price, quantity_available, tax_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+productColumns,
		p.ID, p.Name, p.Category, NormalizeKey(p.Name), NormalizeKey(p.Category),
		p.Price, p.QuantityAvailable, p.TaxRate)
	if err := row.StructScan(p); err != nil {
		if isCode(err, "23505") {
			return ErrDuplicateProduct
		}
		return classify(ctx, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &Product{}
	err := s.db.GetContext(ctx, p, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return p, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, name, category string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p := &Product{}
	err := s.db.GetContext(ctx, p, `
		SELECT `+productColumns+` FROM products
		WHERE name_key = $1 AND category_key = $2`,
		NormalizeKey(name), NormalizeKey(category))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s / %s", ErrNotFound, name, category)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var products []*Product
	if err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY category, name`); err != nil {
		return nil, classify(ctx, err)
	}
	return products, nil
}

func (s *PostgresStore) UpdateDetails(ctx context.Context, id uuid.UUID, update DetailsUpdate) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer tx.Rollback()

	p := &Product{}
	err = tx.GetContext(ctx, p, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	if err := update.applyTo(p); err != nil {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, name_key = $4, category_key = $5, price = $6, tax_rate = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, p.Name, p.Category, NormalizeKey(p.Name), NormalizeKey(p.Category), p.Price, p.TaxRate).StructScan(p)
	if err != nil {
		if isCode(err, "23505") {
			return nil, ErrDuplicateProduct
		}
		return nil, classify(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(ctx, err)
	}
	return p, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var referenced bool
	if err := s.db.GetContext(ctx, &referenced,
		`SELECT EXISTS (SELECT 1 FROM stock_adjustments WHERE product_id = $1)`, id); err != nil {
		return classify(ctx, err)
	}
	if referenced {
		return ErrProductReferenced
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isCode(err, "23503") {
			return ErrProductReferenced
		}
		return classify(ctx, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Apply commits op in one transaction. Serialization failures and deadlocks
// are retried with exponential backoff; business outcomes are returned as-is.
func (s *PostgresStore) Apply(ctx context.Context, op Operation) (*Applied, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "catalog.apply",
		trace.WithAttributes(
			attribute.String("operation.id", op.ID.String()),
			attribute.Int("adjustment.count", len(op.Adjustments)),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	applied, err := backoff.Retry(ctx, func() (*Applied, error) {
		applied, err := s.applyOnce(ctx, op)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return applied, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.maxTries))
	if err != nil {
		err = classify(ctx, err)
		span.RecordError(err)
		if errors.Is(err, ErrUnavailable) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	span.SetAttributes(attribute.Bool("operation.replayed", applied.Replayed))
	return applied, nil
}

func (s *PostgresStore) applyOnce(ctx context.Context, op Operation) (*Applied, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	fp := op.Fingerprint()
	if op.ID != uuid.Nil {
		// The insert takes the idempotency slot before any stock moves. A
		// concurrent duplicate blocks here until the first commits or aborts.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stock_operations (operation_id, fingerprint)
			VALUES ($1, $2)
			ON CONFLICT (operation_id) DO NOTHING`, op.ID, fp[:])
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.replay(ctx, tx, op, fp)
		}
	}

	products := make([]*Product, len(op.Adjustments))
	for _, i := range op.applyOrder() {
		adj := op.Adjustments[i]
		p := &Product{}
		err := tx.QueryRowxContext(ctx, `
			UPDATE products
			SET quantity_available = quantity_available + $2, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND quantity_available::bigint + $2 BETWEEN 0 AND $3
			RETURNING `+productColumns, adj.ProductID, adj.Delta, MaxQuantity).StructScan(p)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejection(ctx, tx, adj)
		}
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (operation_id, product_id, reason, delta, new_quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NullUUID{UUID: op.ID, Valid: op.ID != uuid.Nil}, adj.ProductID, adj.Reason, adj.Delta, p.QuantityAvailable)
		if err != nil {
			return nil, err
		}
		products[i] = p
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Applied{Products: products}, nil
}

// rejection explains why the guarded UPDATE matched no row. The read happens
// inside the same transaction, so Available reflects the refused state.
func (s *PostgresStore) rejection(ctx context.Context, tx *sqlx.Tx, adj Adjustment) error {
	var available int
	err := tx.GetContext(ctx, &available, `SELECT quantity_available FROM products WHERE id = $1`, adj.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, adj.ProductID)
	}
	if err != nil {
		return err
	}
	if err := exceedsCapacity(available, adj.Delta); err != nil {
		return err
	}
	return &InsufficientStockError{ProductID: adj.ProductID, Requested: -adj.Delta, Available: available}
}

func (s *PostgresStore) replay(ctx context.Context, tx *sqlx.Tx, op Operation, fp [32]byte) (*Applied, error) {
	var stored []byte
	if err := tx.GetContext(ctx, &stored,
		`SELECT fingerprint FROM stock_operations WHERE operation_id = $1`, op.ID); err != nil {
		return nil, err
	}
	if string(stored) != string(fp[:]) {
		return nil, ErrOperationConflict
	}

	products := make([]*Product, len(op.Adjustments))
	for i, adj := range op.Adjustments {
		p := &Product{}
		err := tx.GetContext(ctx, p, `SELECT `+productColumns+` FROM products WHERE id = $1`, adj.ProductID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			products[i] = p
		}
	}
	return &Applied{Products: products, Replayed: true}, nil
}

func (s *PostgresStore) History(ctx context.Context, productID uuid.UUID, limit int) ([]LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, operation_id, product_id, reason, delta, new_quantity, created_at
		FROM stock_adjustments
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return toEntries(rows), nil
}

func (s *PostgresStore) Stream(ctx context.Context, afterSeq int64, batchSize int) ([]LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if batchSize <= 0 {
		batchSize = 1000
	}
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT seq, operation_id, product_id, reason, delta, new_quantity, created_at
		FROM stock_adjustments
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`, afterSeq, batchSize)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return toEntries(rows), nil
}

type ledgerRow struct {
	Seq         int64         `db:"seq"`
	OperationID uuid.NullUUID `db:"operation_id"`
	ProductID   uuid.UUID     `db:"product_id"`
	Reason      Reason        `db:"reason"`
	Delta       int           `db:"delta"`
	NewQuantity int           `db:"new_quantity"`
	CreatedAt   time.Time     `db:"created_at"`
}

func toEntries(rows []ledgerRow) []LedgerEntry {
	out := make([]LedgerEntry, len(rows))
	for i, r := range rows {
		out[i] = LedgerEntry{
			Seq:         r.Seq,
			OperationID: r.OperationID.UUID,
			ProductID:   r.ProductID,
			Reason:      r.Reason,
			Delta:       r.Delta,
			NewQuantity: r.NewQuantity,
			CreatedAt:   r.CreatedAt,
		}
	}
	return out
}

func isCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	return isCode(err, "40001") || isCode(err, "40P01")
}

// isDataException matches SQLSTATE class 22, such as a numeric value out of
// range. Retrying the same input cannot succeed.
func isDataException(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "22"
}

func isBusiness(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrOperationConflict) ||
		errors.Is(err, ErrDuplicateProduct) ||
		errors.Is(err, ErrProductReferenced) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrInvalidProduct)
}

// classify passes business errors through and wraps everything else,
// including deadline expiry, as ErrUnavailable.
func classify(ctx context.Context, err error) error {
	if err == nil || isBusiness(err) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if isDataException(err) {
		return fmt.Errorf("%w: %w", ErrInvalidAdjustment, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return unavailable(fmt.Errorf("%w: %w", ctxErr, err))
	}
	return unavailable(err)
}
