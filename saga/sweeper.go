package saga

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
)

// Handler is the subset of Orchestrator[S] the Sweeper needs: something that
// can process a synthetic EventTimeout for a given correlation ID. Kept
// non-generic so one Sweeper can watch sagas of any data type.
type Handler interface {
	Handle(ctx context.Context, correlationID string, eventType EventType, event any) error
}

// Sweeper polls a SagaRepository for instances whose TimeoutAt has passed and
// delivers a synthetic EventTimeout to the owning Orchestrator, grounded on
// the teacher's ticker-driven poll-loop lifecycle (Start/Stop/Run) applied
// here to saga timeouts instead of outbox or scheduled-message polling.
type Sweeper struct {
	repo    storageport.SagaRepository
	handler Handler
	clock   clock.Clock

	checkInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	swept  atomic.Int64
	failed atomic.Int64
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper polls for timed-out instances.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithSweeperClock overrides the real-time clock, so tests can drive
// timeouts with a clock.Virtual instead of waiting on wall-clock time.
func WithSweeperClock(c clock.Clock) SweeperOption {
	return func(s *Sweeper) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSweeperLogger overrides the default no-op logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper builds a Sweeper that polls repo and delivers timeouts to handler.
func NewSweeper(repo storageport.SagaRepository, handler Handler, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:            repo,
		handler:         handler,
		clock:           clock.New(),
		checkInterval:   5 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling for timed-out saga instances, blocking until ctx is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("saga: sweeper already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "saga sweeper started", slog.Duration("check_interval", s.checkInterval))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.sweep()
			}()
		}
	}
}

// Stop cancels the poll loop and waits up to shutdownTimeout for in-flight
// sweeps to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return errors.New("saga: sweeper not started")
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
		return fmt.Errorf("saga: sweeper shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility.
func (s *Sweeper) Run(ctx context.Context) func() error {
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

func (s *Sweeper) sweep() {
	timedOut, err := s.repo.FindTimedOut(s.ctx, s.clock.Now())
	if err != nil {
		s.logger.ErrorContext(s.ctx, "failed to find timed-out saga instances", slog.Any("error", err))
		return
	}

	for _, instance := range timedOut {
		if err := s.handler.Handle(s.ctx, instance.CorrelationID, EventTimeout, nil); err != nil {
			s.failed.Add(1)
			s.logger.ErrorContext(s.ctx, "failed to deliver saga timeout event",
				slog.String("correlation_id", instance.CorrelationID), slog.Any("error", err))
			continue
		}
		s.swept.Add(1)
	}
}

// Stats reports how many timeouts the sweeper has delivered and how many
// deliveries failed.
func (s *Sweeper) Stats() (swept int64, failed int64) {
	return s.swept.Load(), s.failed.Load()
}
