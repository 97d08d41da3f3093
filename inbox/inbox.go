// Package inbox provides at-most-once handler invocation: before a message is
// handled, its ID is recorded in the inbox; if it's already present within
// the dedup window, the message is discarded as a duplicate instead of
// re-invoking the handler. This is the mirror image of outbox (publish
// dedup vs. receive dedup) and shares its storage-port-first design.
package inbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/storageport"
)

// ErrDuplicate is returned by Decorator when a message has already been
// handled within the dedup window. Callers that want silent discard instead
// of a visible error should check errors.Is(err, ErrDuplicate) and treat it
// as success.
var ErrDuplicate = errors.New("inbox: duplicate message discarded")

// Engine wires a storageport.InboxStorage and dedup window into a
// dispatcher.Decorator.
type Engine struct {
	storage    storageport.InboxStorage
	dedupWindow time.Duration
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDedupWindow overrides the default one-hour dedup window.
func WithDedupWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.dedupWindow = d
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Engine over storage with a one-hour default dedup window.
func New(storage storageport.InboxStorage, opts ...Option) *Engine {
	e := &Engine{
		storage:     storage,
		dedupWindow: time.Hour,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decorator returns the dispatcher.Decorator enforcing at-most-once
// handling. It should sit outermost (or just inside Observability) in the
// pipeline, before any retry/transaction/idempotency machinery runs, since a
// duplicate delivery shouldn't even begin a unit of work.
func (e *Engine) Decorator() dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			inserted, err := e.storage.TryInsert(ctx, env.MessageID, time.Now().UTC().Add(e.dedupWindow))
			if err != nil {
				return nil, err
			}
			if !inserted {
				e.logger.DebugContext(ctx, "discarding duplicate message",
					slog.String("message_id", env.MessageID),
					slog.String("name", env.Name))
				return nil, ErrDuplicate
			}
			return next(ctx, env, payload)
		}
	}
}

// Purger periodically removes expired inbox records, matching the teacher's
// ticker-driven background-loop idiom.
type Purger struct {
	storage  storageport.InboxStorage
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc

	removed int64
}

// NewPurger builds a Purger sweeping storage every interval.
func NewPurger(storage storageport.InboxStorage, interval time.Duration, logger *slog.Logger) *Purger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Purger{storage: storage, interval: interval, logger: logger}
}

// Start runs the purge loop until ctx is cancelled.
func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return errors.New("inbox: purger already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := p.storage.Purge(ctx, time.Now().UTC())
			if err != nil {
				p.logger.ErrorContext(ctx, "inbox purge failed", slog.Any("error", err))
				continue
			}
			p.removed += int64(removed)
		}
	}
}

// Stop cancels the purge loop.
func (p *Purger) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return errors.New("inbox: purger not started")
	}
	p.cancel()
	p.cancel = nil
	return nil
}
