// Package batching assembles individual dispatcher calls into batches by size
// or timeout, whichever triggers first, per spec.md §4.4. No teacher package
// covers batch assembly directly; the background-assembler shape is grounded
// on the teacher's general lifecycle idiom (Start/Stop, ticker-driven
// goroutine, WaitGroup-drained shutdown) applied to a new concern.
package batching

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
)

// Config controls batch assembly per spec.md §4.4.
type Config struct {
	// MinBatchSize is the fewest items a timeout-triggered flush will send;
	// below it, the assembler keeps waiting for BatchTimeout to elapse again
	// rather than flushing a near-empty batch. Zero means any size flushes.
	MinBatchSize int

	// MaxBatchSize triggers an immediate flush once reached, regardless of
	// BatchTimeout.
	MaxBatchSize int

	// BatchTimeout flushes whatever has accumulated (if at least
	// MinBatchSize) even if MaxBatchSize hasn't been reached.
	BatchTimeout time.Duration

	// MaxDegreeOfParallelism bounds how many items within one batch are
	// processed concurrently. 1 means strictly sequential.
	MaxDegreeOfParallelism int

	// ContinueOnFailure keeps processing the rest of a batch after one
	// item's handler fails; each caller still receives its own item's
	// result. When false, items that have not started once an item has
	// failed are not run and receive the batch's errors so far, combined
	// via multierr.
	ContinueOnFailure bool

	// FallbackToIndividual re-dispatches a batch item on its own, outside
	// the batch, when the batched attempt fails — useful when a handler can
	// process single items but a batch call failed for a batch-specific
	// reason (e.g. a bulk constraint violation).
	FallbackToIndividual bool
}

// DefaultConfig matches spec.md's suggested starting point.
func DefaultConfig() Config {
	return Config{
		MinBatchSize:           1,
		MaxBatchSize:           100,
		BatchTimeout:           500 * time.Millisecond,
		MaxDegreeOfParallelism: 1,
		ContinueOnFailure:      true,
	}
}

type item struct {
	ctx     context.Context
	env     message.Envelope
	payload any
	next    dispatcher.Next
	result  chan outcome
}

type outcome struct {
	value any
	err   error
}

// Assembler collects items sharing a batch key (the envelope's message name)
// and flushes them together, either when MaxBatchSize is reached or when
// BatchTimeout elapses with at least MinBatchSize accumulated.
type Assembler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]*queueState
	closing bool
	wg      sync.WaitGroup
}

type queueState struct {
	items []*item
	timer *time.Timer
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) { a.logger = logger }
}

// New builds an Assembler with cfg.
func New(cfg Config, opts ...Option) *Assembler {
	a := &Assembler{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		queues: make(map[string]*queueState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decorator returns the dispatcher.Decorator implementing batch assembly.
// Each call through it blocks until its item's batch flushes and its
// individual result is known, so from the caller's perspective Send/Query
// remain synchronous even though the underlying handler invocation is
// batched with other concurrent callers.
func (a *Assembler) Decorator() dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			it := &item{ctx: ctx, env: env, payload: payload, next: next, result: make(chan outcome, 1)}
			a.enqueue(env.Name, it)

			select {
			case o := <-it.result:
				return o.value, o.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

func (a *Assembler) enqueue(key string, it *item) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, exists := a.queues[key]
	if !exists {
		q = &queueState{}
		a.queues[key] = q
	}
	q.items = append(q.items, it)

	if len(q.items) >= a.cfg.MaxBatchSize {
		a.flushLocked(key)
		return
	}

	if q.timer == nil {
		q.timer = time.AfterFunc(a.cfg.BatchTimeout, func() { a.onTimeout(key) })
	}
}

func (a *Assembler) onTimeout(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, exists := a.queues[key]
	if !exists {
		return
	}
	if len(q.items) < a.cfg.MinBatchSize {
		// Not enough items yet; keep waiting for the next timeout window.
		q.timer = time.AfterFunc(a.cfg.BatchTimeout, func() { a.onTimeout(key) })
		return
	}
	a.flushLocked(key)
}

// flushLocked must be called with a.mu held. It detaches the queue's items
// and processes them in a separate goroutine so enqueue() never blocks on
// handler execution.
func (a *Assembler) flushLocked(key string) {
	q := a.queues[key]
	items := q.items
	if q.timer != nil {
		q.timer.Stop()
	}
	delete(a.queues, key)

	if len(items) == 0 {
		return
	}

	a.wg.Add(1)
	go a.process(items)
}

func (a *Assembler) process(items []*item) {
	defer a.wg.Done()

	parallelism := a.cfg.MaxDegreeOfParallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	for _, it := range items {
		it := it
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if !a.cfg.ContinueOnFailure {
				mu.Lock()
				prior := errs
				mu.Unlock()
				if prior != nil {
					it.result <- outcome{err: prior}
					return
				}
			}

			value, err := it.next(it.ctx, it.env, it.payload)
			if err != nil && a.cfg.FallbackToIndividual {
				value, err = it.next(it.ctx, it.env, it.payload)
			}
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				if !a.cfg.ContinueOnFailure {
					it.result <- outcome{err: err}
					return
				}
			}
			it.result <- outcome{value: value, err: err}
		}()
	}
	wg.Wait()
}

// Close waits for in-flight batches to finish processing. It does not flush
// partially filled queues; callers relying on a final flush should ensure
// BatchTimeout elapses before calling Close, or call Flush explicitly.
func (a *Assembler) Close() {
	a.wg.Wait()
}

// Flush forces an immediate flush of every pending queue, regardless of
// MinBatchSize or BatchTimeout. Useful at shutdown to avoid stranding
// partially filled batches.
func (a *Assembler) Flush() {
	a.mu.Lock()
	keys := make([]string, 0, len(a.queues))
	for k := range a.queues {
		keys = append(keys, k)
	}
	for _, k := range keys {
		a.flushLocked(k)
	}
	a.mu.Unlock()
}
