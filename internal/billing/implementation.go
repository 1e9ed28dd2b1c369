// internal/billing/implementation.go
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"quickbill/internal/catalog"
)

const billColumns = `id, operation_id, customer_name, lines, total, tax_total, created_at`

type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) Create(ctx context.Context, b *Bill) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (:id, :operation_id, :customer_name, :lines, :total, :tax_total, :created_at)`, b)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateBill
		}
		return unavailable("insert bill", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.getOne(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *PostgresStore) GetByOperation(ctx context.Context, opID uuid.UUID) (*Bill, error) {
	b, err := s.getOne(ctx, `SELECT `+billColumns+` FROM bills WHERE operation_id = $1 AND deleted_at IS NULL`, opID)
	if !errors.Is(err, ErrBillNotFound) {
		return b, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var deleted bool
	if err := s.db.GetContext(ctx, &deleted,
		`SELECT EXISTS (SELECT 1 FROM bills WHERE operation_id = $1 AND deleted_at IS NOT NULL)`, opID); err != nil {
		return nil, unavailable("query bill", err)
	}
	if deleted {
		return nil, fmt.Errorf("%w: operation %s", ErrBillDeleted, opID)
	}
	return nil, err
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg uuid.UUID) (*Bill, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	b := &Bill{}
	err := s.db.GetContext(ctx, b, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBillNotFound, arg)
	}
	if err != nil {
		return nil, unavailable("query bill", err)
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context, since time.Time) ([]*Bill, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var bills []*Bill
	err := s.db.SelectContext(ctx, &bills,
		`SELECT `+billColumns+` FROM bills WHERE created_at >= $1 AND deleted_at IS NULL ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, unavailable("list bills", err)
	}
	return bills, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// The row stays as a tombstone so its operation_id keeps blocking replays.
	res, err := s.db.ExecContext(ctx,
		`UPDATE bills SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return unavailable("delete bill", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrBillNotFound, id)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", catalog.ErrUnavailable, op, err)
}
