package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/clock"
	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// MemoryScheduler is spec.md §4.7's in-memory scheduler: a single timer
// driving a min-heap keyed by DueAt, peek-and-sleep, dispatching all due
// items atomically on wake. It requires no storage backend and is the
// zero-dependency counterpart to the storage-backed Scheduler above; no
// teacher package implements a timing wheel, so this heap is built directly
// on stdlib container/heap (justified in DESIGN.md: a 15-line priority
// queue has no third-party equivalent exercised elsewhere in the stack).
type MemoryScheduler struct {
	dispatch Dispatch
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	entries scheduledHeap
	byID    map[string]*scheduledItem

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatched int64
	failed     int64
}

// NewMemoryScheduler builds a MemoryScheduler dispatching due messages via
// dispatch.
func NewMemoryScheduler(dispatch Dispatch, opts ...MemoryOption) *MemoryScheduler {
	s := &MemoryScheduler{
		dispatch: dispatch,
		clock:    clock.New(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		byID:     make(map[string]*scheduledItem),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MemoryOption configures a MemoryScheduler.
type MemoryOption func(*MemoryScheduler)

// WithMemoryClock overrides the real-time clock, letting tests drive a
// clock.Virtual instead of the wall clock.
func WithMemoryClock(c clock.Clock) MemoryOption {
	return func(s *MemoryScheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMemoryLogger overrides the default no-op logger.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type scheduledItem struct {
	msg   storageport.ScheduledMessage
	index int
}

// scheduledHeap is a container/heap.Interface ordered by DueAt ascending.
type scheduledHeap []*scheduledItem

func (h scheduledHeap) Len() int            { return len(h) }
func (h scheduledHeap) Less(i, j int) bool  { return h[i].msg.DueAt.Before(h[j].msg.DueAt) }
func (h scheduledHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *scheduledHeap) Push(x any) {
	item := x.(*scheduledItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Schedule inserts msg into the heap, assigning an ID if unset, and wakes
// the run loop in case msg is now the earliest due item.
func (s *MemoryScheduler) Schedule(_ context.Context, msg *storageport.ScheduledMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = storageport.StatusPending

	s.mu.Lock()
	item := &scheduledItem{msg: *msg}
	heap.Push(&s.entries, item)
	s.byID[msg.ID] = item
	s.mu.Unlock()

	s.notify()
	return nil
}

// Cancel removes a not-yet-dispatched message from the heap.
func (s *MemoryScheduler) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("scheduler: scheduled message not found: %s", id)
	}
	heap.Remove(&s.entries, item.index)
	delete(s.byID, id)
	return nil
}

func (s *MemoryScheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start runs the peek-and-sleep loop, blocking until ctx is cancelled: peek
// the earliest due_at, sleep until then (or until a new Schedule wakes it
// early), and on wake dispatch every item now due. Cancel does not wake the
// loop; a timer armed for a cancelled item fires and finds nothing due.
func (s *MemoryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(s.ctx, "in-memory scheduler started")

	for {
		wait, timerC, stop := s.nextWait()

		select {
		case <-s.ctx.Done():
			if stop != nil {
				stop()
			}
			return s.ctx.Err()
		case <-s.wake:
			if stop != nil {
				stop()
			}
			continue
		case <-timerC:
			s.dispatchDue()
		}
		_ = wait
	}
}

// nextWait peeks the earliest due item and returns a timer firing at its
// DueAt. If the heap is empty it returns a nil channel, parking the select
// on ctx.Done/wake only until the next Schedule call.
func (s *MemoryScheduler) nextWait() (time.Duration, <-chan time.Time, func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return 0, nil, nil
	}
	d := s.entries[0].msg.DueAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	c, stop := s.clock.NewTimer(d)
	return d, c, stop
}

func (s *MemoryScheduler) dispatchDue() {
	now := s.clock.Now()

	for {
		item := s.popDue(now)
		if item == nil {
			return
		}
		s.wg.Add(1)
		go func(msg storageport.ScheduledMessage) {
			defer s.wg.Done()
			s.dispatchOne(msg)
		}(item.msg)
	}
}

func (s *MemoryScheduler) popDue(now time.Time) *scheduledItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 || s.entries[0].msg.DueAt.After(now) {
		return nil
	}
	item := heap.Pop(&s.entries).(*scheduledItem)
	delete(s.byID, item.msg.ID)
	return item
}

func (s *MemoryScheduler) dispatchOne(msg storageport.ScheduledMessage) {
	err := s.safeDispatch(msg)

	s.mu.Lock()
	if err != nil {
		s.failed++
	} else {
		s.dispatched++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(s.ctx, "failed to dispatch scheduled message",
			slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

func (s *MemoryScheduler) safeDispatch(msg storageport.ScheduledMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: dispatch panicked: %v", r)
		}
	}()
	return s.dispatch(s.ctx, msg)
}

// Stop cancels the run loop and waits for in-flight dispatches to finish.
func (s *MemoryScheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return errors.New("scheduler: not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}

// Run provides errgroup compatibility.
func (s *MemoryScheduler) Run(ctx context.Context) func() error {
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

// Stats reports dispatch counters.
func (s *MemoryScheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Dispatched: s.dispatched, Failed: s.failed}
}
