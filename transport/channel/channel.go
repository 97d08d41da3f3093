// Package channel implements the bounded MPMC channel-queue transport: a
// buffered Go channel with explicit block-or-drop semantics on a full
// queue, grounded on the mailbox send/receive shape of
// other_examples' stage.BaseActor (buffered channel + non-blocking select
// with a drop path, generalized from a single actor's mailbox to a shared
// MPMC queue any number of producers and consumers can use).
package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send/Receive once the queue has been Closed.
var ErrClosed = errors.New("channel: queue closed")

// ErrFull is returned by Send when the queue is full and DropWhenFull is set.
var ErrFull = errors.New("channel: queue full")

// Config configures a Queue.
type Config struct {
	// BufferSize is the channel's capacity. Must be a positive integer.
	BufferSize int

	// DropWhenFull, if true, makes Send return ErrFull immediately instead
	// of blocking when the queue is at capacity.
	DropWhenFull bool
}

// DefaultConfig returns a Config with BufferSize 256 and blocking Send.
func DefaultConfig() Config {
	return Config{BufferSize: 256, DropWhenFull: false}
}

// Queue is a bounded MPMC queue of opaque payloads backed by a buffered
// channel. Safe for concurrent Send and Receive from any number of
// goroutines.
type Queue struct {
	ch     chan any
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	sent    atomic.Int64
	dropped atomic.Int64
	received atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// New builds a Queue per cfg, defaulting BufferSize to 256 if unset.
func New(cfg Config, opts ...Option) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	q := &Queue{
		ch:     make(chan any, cfg.BufferSize),
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues payload. If the queue is full and DropWhenFull is set, it
// returns ErrFull immediately and increments the dropped counter; otherwise
// it blocks until space is available, ctx is cancelled, or the queue is
// closed.
func (q *Queue) Send(ctx context.Context, payload any) error {
	if q.closed.Load() {
		return ErrClosed
	}

	if q.cfg.DropWhenFull {
		select {
		case q.ch <- payload:
			q.sent.Add(1)
			return nil
		default:
			q.dropped.Add(1)
			q.logger.WarnContext(ctx, "channel queue full, dropping message")
			return ErrFull
		}
	}

	select {
	case q.ch <- payload:
		q.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a payload is available, ctx is cancelled, or the
// queue is closed and drained.
func (q *Queue) Receive(ctx context.Context) (any, error) {
	select {
	case payload, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		q.received.Add(1)
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new sends and closes the underlying channel once,
// allowing consumers to drain any buffered payloads before observing
// ErrClosed.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
	})
	return nil
}

// Stats reports queue counters.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
	Depth    int
}

// Stats returns current queue counters, including the number of payloads
// currently buffered.
func (q *Queue) Stats() Stats {
	return Stats{
		Sent:     q.sent.Load(),
		Received: q.received.Load(),
		Dropped:  q.dropped.Load(),
		Depth:    len(q.ch),
	}
}
