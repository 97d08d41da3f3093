// Package scheduler dispatches messages at a future instant: Schedule
// persists a message with a DueAt time, and a background poller claims and
// dispatches due messages, grounded on core/queue.Scheduler's
// ticker-driven check loop generalized from "create periodic tasks" to
// "dispatch one-off scheduled messages". Concurrency bounding and
// auto-cleanup mirror outbox.Processor's sem/cleanup shape.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/heromessaging/clock"
	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// Dispatch delivers a claimed scheduled message's decoded payload, typically
// dispatcher.Dispatcher.Send or .Publish after deserialization.
type Dispatch func(ctx context.Context, msg storageport.ScheduledMessage) error

// Scheduler polls storageport.ScheduledMessageStorage for due messages and
// dispatches them, bounding in-flight dispatches and, when WithAutoCleanup is
// set, periodically purging delivered entries.
type Scheduler struct {
	storage  storageport.ScheduledMessageStorage
	dispatch Dispatch
	clock    clock.Clock
	sem      chan struct{}

	checkInterval   time.Duration
	claimBatchSize  int
	shutdownTimeout time.Duration
	maxAttempts     int
	autoCleanup     bool
	cleanupAge      time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatched atomic.Int64
	failed     atomic.Int64
	cleaned    atomic.Int64
	active     atomic.Int32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often the scheduler polls for due messages.
// Default 30 seconds, matching core/queue.Scheduler's default.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithClaimBatchSize sets how many due messages are claimed per tick.
func WithClaimBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.claimBatchSize = n
		}
	}
}

// WithMaxConcurrency bounds how many claimed messages are dispatched
// concurrently within one poll tick, the scheduler analogue of
// outbox.WithMaxConcurrency.
func WithMaxConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithMaxAttempts sets how many dispatch attempts a message gets before it's
// left Failed instead of retried.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithAutoCleanup enables a background loop that deletes delivered entries
// older than age, checked every interval, per spec.md §4.7's
// auto_cleanup/cleanup_age/cleanup_interval contract.
func WithAutoCleanup(age, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.autoCleanup = true
		if age > 0 {
			s.cleanupAge = age
		}
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithClock overrides the real-time clock, resolving spec.md §9 Open
// Question 1: production uses the real clock; tests inject a clock.Virtual.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Scheduler over storage, dispatching due messages via dispatch.
func New(storage storageport.ScheduledMessageStorage, dispatch Dispatch, opts ...Option) *Scheduler {
	s := &Scheduler{
		storage:         storage,
		dispatch:        dispatch,
		clock:           clock.New(),
		sem:             make(chan struct{}, 8),
		checkInterval:   30 * time.Second,
		claimBatchSize:  50,
		shutdownTimeout: 30 * time.Second,
		maxAttempts:     5,
		cleanupAge:      24 * time.Hour,
		cleanupInterval: time.Hour,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule persists msg for future dispatch, assigning an ID if unset.
func (s *Scheduler) Schedule(ctx context.Context, msg *storageport.ScheduledMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return s.storage.Schedule(ctx, msg)
}

// Cancel prevents a scheduled message from being dispatched, if it hasn't
// been claimed yet.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.storage.Cancel(ctx, id)
}

// Start begins polling for due messages, blocking until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "scheduler started", slog.Duration("check_interval", s.checkInterval))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	var cleanupC <-chan time.Time
	if s.autoCleanup {
		cleanupTicker := time.NewTicker(s.cleanupInterval)
		defer cleanupTicker.Stop()
		cleanupC = cleanupTicker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dispatchDue()
			}()
		case <-cleanupC:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.cleanupOnce()
			}()
		}
	}
}

// Stop cancels the poll loop and waits up to shutdownTimeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return errors.New("scheduler: not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancelTimeout()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- s.Start(ctx) }()

		select {
		case <-ctx.Done():
			_ = s.Stop()
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

func (s *Scheduler) dispatchDue() {
	due, err := s.storage.ClaimDue(s.ctx, s.clock.Now(), s.claimBatchSize)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "failed to claim due scheduled messages", slog.Any("error", err))
		return
	}

	var msgWG sync.WaitGroup
	for _, msg := range due {
		msg := msg
		s.sem <- struct{}{}
		msgWG.Add(1)
		go func() {
			defer msgWG.Done()
			defer func() { <-s.sem }()

			s.active.Add(1)
			s.dispatchOne(msg)
			s.active.Add(-1)
		}()
	}
	msgWG.Wait()
}

func (s *Scheduler) dispatchOne(msg storageport.ScheduledMessage) {
	err := s.safeDispatch(msg)
	if err == nil {
		if markErr := s.storage.MarkDispatched(s.ctx, msg.ID); markErr != nil {
			s.logger.ErrorContext(s.ctx, "failed to mark scheduled message dispatched",
				slog.String("message_id", msg.ID), slog.Any("error", markErr))
		}
		s.dispatched.Add(1)
		return
	}

	s.failed.Add(1)
	retry := msg.AttemptCount+1 < s.maxAttempts
	if markErr := s.storage.MarkFailed(s.ctx, msg.ID, err, retry); markErr != nil {
		s.logger.ErrorContext(s.ctx, "failed to record scheduled message failure",
			slog.String("message_id", msg.ID), slog.Any("error", markErr))
	}
	s.logger.ErrorContext(s.ctx, "failed to dispatch scheduled message",
		slog.String("message_id", msg.ID), slog.Bool("retry", retry), slog.Any("error", err))
}

// safeDispatch recovers a dispatch panic into an error, matching
// outbox.Processor.safePublish's panic-to-error convention.
func (s *Scheduler) safeDispatch(msg storageport.ScheduledMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: dispatch panicked: %v", r)
		}
	}()
	return s.dispatch(s.ctx, msg)
}

func (s *Scheduler) cleanupOnce() {
	n, err := s.storage.CleanupDelivered(s.ctx, s.clock.Now().Add(-s.cleanupAge))
	if err != nil {
		s.logger.ErrorContext(s.ctx, "failed to clean up delivered scheduled messages", slog.Any("error", err))
		return
	}
	s.cleaned.Add(int64(n))
}

// Stats reports scheduler counters.
type Stats struct {
	Dispatched int64
	Failed     int64
	Cleaned    int64
	Active     int32
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatched: s.dispatched.Load(),
		Failed:     s.failed.Load(),
		Cleaned:    s.cleaned.Load(),
		Active:     s.active.Load(),
	}
}

// Healthcheck reports whether the scheduler is currently running.
func (s *Scheduler) Healthcheck(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return errors.New("scheduler: not running")
	}
	return nil
}
