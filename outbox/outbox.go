// Package outbox implements at-least-once message publication: application
// code appends an entry to the outbox (typically in the same storage
// transaction as the business write that produced it), and a background
// Processor claims, publishes, and retries entries until they succeed or
// exhaust their attempts into the dead letter queue. The poll/claim/
// process/retry/DLQ loop is grounded directly on core/queue.Worker.Start.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// Publisher delivers the decoded payload for an outbox entry to its
// eventual destination (typically dispatcher.Dispatcher.Publish, after
// deserializing entry.Payload with a serializer.Serializer).
type Publisher func(ctx context.Context, entry storageport.OutboxEntry) error

// Processor claims pending outbox entries and publishes them, retrying with
// backoff on failure and moving to the dead letter queue once the
// processor's WithMaxAttempts limit is reached; an entry's own MaxAttempts
// field is not consulted. Ordering is per-worker FIFO only: running multiple Processor
// instances against the same storage gives no cross-worker ordering
// guarantee (spec.md §9 Open Question 3).
type Processor struct {
	storage   storageport.OutboxStorage
	publisher Publisher
	workerID  string
	sem       chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex

	pollInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	claimBatchSize  int
	maxAttempts     int
	backoffBase     time.Duration
	backoffMax      time.Duration
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	deadLettered atomic.Int64
	active    atomic.Int32
}

// ErrAlreadyStarted is returned by Start when the processor is already
// running.
var ErrAlreadyStarted = errors.New("outbox: processor already started")

// ErrNotStarted is returned by Stop when the processor isn't running.
var ErrNotStarted = errors.New("outbox: processor not started")

// Option configures a Processor.
type Option func(*Processor)

// WithPollInterval sets how often the processor polls for pending entries.
// Default 5 seconds, matching core/queue.Worker's default.
func WithPollInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLockTimeout sets how long a claimed entry stays locked to this worker.
func WithLockTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.lockTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight publishes.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.shutdownTimeout = d
		}
	}
}

// WithClaimBatchSize sets how many entries are claimed per poll tick.
func WithClaimBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.claimBatchSize = n
		}
	}
}

// WithMaxConcurrency bounds how many claimed entries are published
// concurrently within one poll tick.
func WithMaxConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxAttempts sets how many total attempts an entry gets before it's
// moved to the dead letter queue.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the base and max delay for the retry schedule, applied
// via cenkalti/backoff/v4's exponential curve (same library as
// resilience.Retry, generalized here to schedule the entry's next
// AvailableAt instead of blocking in-process).
func WithBackoff(base, max time.Duration) Option {
	return func(p *Processor) {
		if base > 0 {
			p.backoffBase = base
		}
		if max > 0 {
			p.backoffMax = max
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor builds a Processor over storage, publishing claimed entries
// via publisher.
func NewProcessor(storage storageport.OutboxStorage, publisher Publisher, opts ...Option) *Processor {
	p := &Processor{
		storage:         storage,
		publisher:       publisher,
		workerID:        uuid.NewString(),
		sem:             make(chan struct{}, 4),
		pollInterval:    5 * time.Second,
		lockTimeout:     5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		claimBatchSize:  10,
		maxAttempts:     5,
		backoffBase:     time.Second,
		backoffMax:      time.Minute,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling for pending entries. Blocks until ctx is cancelled or
// Stop is called, matching core/queue.Worker.Start's contract exactly.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.logger.InfoContext(p.ctx, "outbox processor started",
		slog.String("worker_id", p.workerID))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-ticker.C:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.pollAndProcess()
			}()
		}
	}
}

// Stop gracefully shuts down the processor, waiting up to shutdownTimeout
// for in-flight publishes to finish.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return ErrNotStarted
	}
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancelTimeout()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outbox: shutdown timeout exceeded after %s", p.shutdownTimeout)
	}
}

// Run provides errgroup compatibility, matching the teacher's uniform
// lifecycle triple.
func (p *Processor) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- p.Start(ctx) }()

		select {
		case <-ctx.Done():
			_ = p.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (p *Processor) pollAndProcess() {
	entries, err := p.storage.ClaimPending(p.ctx, p.workerID, p.claimBatchSize, time.Now().UTC().Add(p.lockTimeout))
	if err != nil {
		p.logger.ErrorContext(p.ctx, "failed to claim pending entries", slog.Any("error", err))
		return
	}

	var entryWG sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		p.sem <- struct{}{}
		entryWG.Add(1)
		go func() {
			defer entryWG.Done()
			defer func() { <-p.sem }()

			p.active.Add(1)
			p.processOne(entry)
			p.active.Add(-1)
		}()
	}
	entryWG.Wait()
}

func (p *Processor) processOne(entry storageport.OutboxEntry) {
	err := p.safePublish(entry)
	if err == nil {
		if err := p.storage.MarkCompleted(p.ctx, entry.ID); err != nil {
			p.logger.ErrorContext(p.ctx, "failed to mark outbox entry completed",
				slog.String("entry_id", entry.ID), slog.Any("error", err))
		}
		p.processed.Add(1)
		return
	}

	p.failed.Add(1)
	attempt := entry.Attempts + 1
	if attempt >= p.maxAttempts {
		if dlqErr := p.storage.MoveToDeadLetter(p.ctx, entry.ID, err.Error()); dlqErr != nil {
			p.logger.ErrorContext(p.ctx, "failed to move outbox entry to dead letter",
				slog.String("entry_id", entry.ID), slog.Any("error", dlqErr))
		}
		p.deadLettered.Add(1)
		return
	}

	nextAttempt := p.nextAttemptAt(attempt)
	if markErr := p.storage.MarkFailed(p.ctx, entry.ID, err, nextAttempt); markErr != nil {
		p.logger.ErrorContext(p.ctx, "failed to record outbox failure",
			slog.String("entry_id", entry.ID), slog.Any("error", markErr))
	}
}

// nextAttemptAt computes the next retry time using the same exponential
// backoff curve resilience.Retry uses, so outbox retry pacing matches
// synchronous handler retry pacing.
func (p *Processor) nextAttemptAt(attempt int) time.Time {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.backoffBase
	bo.MaxInterval = p.backoffMax
	bo.Multiplier = 2.0

	delay := bo.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * bo.Multiplier)
		if delay > bo.MaxInterval {
			delay = bo.MaxInterval
			break
		}
	}
	return time.Now().UTC().Add(delay)
}

// safePublish recovers a publisher panic into an error, matching
// core/command's panic-to-error handler convention (safeHandle).
func (p *Processor) safePublish(entry storageport.OutboxEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("outbox: publisher panicked: %v", r)
		}
	}()
	return p.publisher(p.ctx, entry)
}

// Stats reports processing counters.
type Stats struct {
	Processed    int64
	Failed       int64
	DeadLettered int64
	Active       int32
}

func (p *Processor) Stats() Stats {
	return Stats{
		Processed:    p.processed.Load(),
		Failed:       p.failed.Load(),
		DeadLettered: p.deadLettered.Load(),
		Active:       p.active.Load(),
	}
}

// Healthcheck reports whether the processor is currently running.
func (p *Processor) Healthcheck(_ context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cancel == nil {
		return errors.New("outbox: processor not running")
	}
	return nil
}
