// internal/offline/runner.go
package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Runner drains the queue whenever the terminal comes back online and, while
// online, retries a non-empty backlog on a fixed interval.
type Runner struct {
	queue      *Queue
	retryEvery time.Duration
	logger     zerolog.Logger

	online atomic.Bool
	notify chan struct{}

	mu         sync.Mutex
	lastReport Report
	onDrain    func(Report)
}

func NewRunner(queue *Queue, retryEvery time.Duration, logger zerolog.Logger) *Runner {
	if retryEvery <= 0 {
		retryEvery = 5 * time.Second
	}
	return &Runner{
		queue:      queue,
		retryEvery: retryEvery,
		logger:     logger.With().Str("component", "offline_runner").Logger(),
		notify:     make(chan struct{}, 1),
	}
}

// OnDrain registers a callback invoked after every drain that did work.
func (r *Runner) OnDrain(fn func(Report)) {
	r.mu.Lock()
	r.onDrain = fn
	r.mu.Unlock()
}

// SetOnline records connectivity. Going from offline to online triggers a
// drain.
func (r *Runner) SetOnline(online bool) {
	was := r.online.Swap(online)
	if online && !was {
		r.logger.Info().Msg("connectivity restored")
		r.Kick()
	} else if !online && was {
		r.logger.Warn().Msg("connectivity lost, sales will be queued")
	}
}

func (r *Runner) Online() bool { return r.online.Load() }

// Kick asks the loop to drain soon. It never blocks.
func (r *Runner) Kick() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// LastReport returns the result of the most recent drain.
func (r *Runner) LastReport() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		case <-ticker.C:
		}
		r.drainOnce(ctx)
	}
}

func (r *Runner) drainOnce(ctx context.Context) {
	if !r.Online() {
		return
	}
	pending, err := r.queue.Pending(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("read offline journal")
		return
	}
	if len(pending) == 0 {
		return
	}

	report, err := r.queue.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("drain aborted")
	}
	r.logger.Info().
		Int("committed", len(report.Committed)).
		Int("rejected", len(report.Rejected)).
		Int("deferred", len(report.Deferred)).
		Msg("offline queue drained")

	r.mu.Lock()
	r.lastReport = report
	fn := r.onDrain
	r.mu.Unlock()
	if fn != nil {
		fn(report)
	}
}
