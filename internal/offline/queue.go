// internal/offline/queue.go
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"quickbill/internal/stock"
)

// Submitter sends one pending operation to the stock service. It must pass
// OperationID through so the service can recognise a replay.
type Submitter interface {
	Submit(ctx context.Context, op PendingOperation) error
}

// Queue replays pending operations oldest first. Only one drain runs at a
// time.
type Queue struct {
	journal    Journal
	submitter  Submitter
	limiter    *rate.Limiter
	logger     zerolog.Logger
	onRejected func(Rejection)
	now        func() time.Time

	mu  sync.Mutex
	seq uint64

	drainMu sync.Mutex
}

type Option func(*Queue)

// WithRateLimit throttles submissions during a drain.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(q *Queue) {
		if perSecond > 0 {
			q.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithOnRejected is called for every operation the service refused.
func WithOnRejected(fn func(Rejection)) Option {
	return func(q *Queue) { q.onRejected = fn }
}

// NewQueue resumes numbering after the highest Seq already journaled.
func NewQueue(ctx context.Context, journal Journal, submitter Submitter, logger zerolog.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{
		journal:   journal,
		submitter: submitter,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    logger.With().Str("component", "offline_queue").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}

	ops, err := journal.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	for _, op := range ops {
		q.seq = max(q.seq, op.Seq)
	}
	return q, nil
}

// Enqueue journals op as queued. A missing OperationID is generated. An
// OperationID that is already queued is left as it is and the journaled
// entry is returned.
func (q *Queue) Enqueue(ctx context.Context, op PendingOperation) (PendingOperation, error) {
	if op.OperationID == uuid.Nil {
		op.OperationID = uuid.New()
	}
	if err := op.validate(); err != nil {
		return op, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if stored, ok, err := q.lookup(ctx, op.OperationID); err != nil || ok {
		return stored, err
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}
	q.seq++
	op.Seq = q.seq
	op.State = StateQueued
	op.Attempts = 0
	op.LastError = ""

	if err := q.journal.Append(ctx, op); err != nil {
		q.seq--
		if errors.Is(err, errAlreadyQueued) {
			stored, _, lookupErr := q.lookup(ctx, op.OperationID)
			return stored, lookupErr
		}
		return op, err
	}
	q.logger.Info().
		Str("operation_id", op.OperationID.String()).
		Str("kind", string(op.Kind)).
		Msg("operation queued")
	return op, nil
}

func (q *Queue) lookup(ctx context.Context, opID uuid.UUID) (PendingOperation, bool, error) {
	ops, err := q.journal.List(ctx)
	if err != nil {
		return PendingOperation{}, false, err
	}
	for _, op := range ops {
		if op.OperationID == opID {
			return op, true, nil
		}
	}
	return PendingOperation{}, false, nil
}

// Pending returns the journal in replay order.
func (q *Queue) Pending(ctx context.Context) ([]PendingOperation, error) {
	return q.journal.List(ctx)
}

// Blocks reports whether a queued operation touches any of productIDs. New
// sales for those products must queue behind it to keep their order.
func (q *Queue) Blocks(ctx context.Context, productIDs ...uuid.UUID) (bool, error) {
	ops, err := q.journal.List(ctx)
	if err != nil {
		return false, err
	}
	wanted := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	for _, op := range ops {
		for _, id := range op.ProductIDs() {
			if _, ok := wanted[id]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// Discard drops a queued operation without replaying it.
func (q *Queue) Discard(ctx context.Context, opID uuid.UUID) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	return q.journal.Remove(ctx, opID)
}

// Drain replays every journaled operation in creation order.
//
// Committed and rejected operations leave the journal. A transient failure
// puts the operation back to queued and defers every later operation that
// touches one of its products, so per-product order survives the retry;
// operations on other products still go ahead. Cancelling ctx stops the
// drain and leaves the rest queued.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report Report
	ops, err := q.journal.List(ctx)
	if err != nil {
		return report, fmt.Errorf("load journal: %w", err)
	}

	blocked := make(map[uuid.UUID]struct{})
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			report.Deferred = append(report.Deferred, ops[i:]...)
			return report, err
		}
		if touches(op, blocked) {
			report.Deferred = append(report.Deferred, op)
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			report.Deferred = append(report.Deferred, ops[i:]...)
			return report, err
		}

		log := q.logger.With().Str("operation_id", op.OperationID.String()).Str("kind", string(op.Kind)).Logger()
		if op.State == StateReplaying {
			log.Info().Msg("resuming interrupted replay")
		}
		op.State = StateReplaying
		op.Attempts++
		if err := q.journal.Update(ctx, op); err != nil {
			return report, fmt.Errorf("mark replaying: %w", err)
		}

		submitErr := q.submitter.Submit(ctx, op)
		switch outcome := classify(submitErr); {
		case outcome == stock.OutcomeSuccess:
			if err := q.journal.Remove(ctx, op.OperationID); err != nil {
				return report, fmt.Errorf("remove committed operation: %w", err)
			}
			report.Committed = append(report.Committed, op)
			log.Info().Int("attempts", op.Attempts).Msg("queued operation committed")

		case outcome == stock.OutcomeTransient:
			op.State = StateQueued
			op.LastError = submitErr.Error()
			if err := q.journal.Update(ctx, op); err != nil {
				return report, fmt.Errorf("requeue operation: %w", err)
			}
			report.Deferred = append(report.Deferred, op)
			for _, id := range op.ProductIDs() {
				blocked[id] = struct{}{}
			}
			log.Warn().Err(submitErr).Int("attempts", op.Attempts).Msg("replay failed, operation stays queued")

		default:
			if err := q.journal.Remove(ctx, op.OperationID); err != nil {
				return report, fmt.Errorf("remove rejected operation: %w", err)
			}
			rej := rejectionFor(op, submitErr)
			report.Rejected = append(report.Rejected, rej)
			log.Warn().Err(submitErr).Str("outcome", rej.Outcome.String()).Msg("queued operation rejected")
			if q.onRejected != nil {
				q.onRejected(rej)
			}
		}
	}
	return report, nil
}

func touches(op PendingOperation, blocked map[uuid.UUID]struct{}) bool {
	if len(blocked) == 0 {
		return false
	}
	for _, id := range op.ProductIDs() {
		if _, ok := blocked[id]; ok {
			return true
		}
	}
	return false
}
