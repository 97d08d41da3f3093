// Package ringbuffer implements the single-writer-principle ring buffer
// transport: a power-of-two slot array with a monotone producer cursor and
// per-consumer cursors, cache-line padded to eliminate false sharing, per
// spec.md §4.9. No teacher package implements a ring buffer directly; the
// cache-line padding and claim/publish/gate shape here follows the standard
// LMAX Disruptor algorithm, wired into the teacher's idiom (Config/Option/
// New/Stats, matching transport/channel.Queue's shape).
package ringbuffer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrCapacityNotPowerOfTwo is returned by New when Config.Capacity is not a
// power of two, per spec.md §4.4's ring-buffer batching validation and §4.9's
// slot-index-by-mask requirement.
var ErrCapacityNotPowerOfTwo = errors.New("ringbuffer: capacity must be a power of two")

// ProducerMode selects how producers claim the next sequence.
type ProducerMode int

const (
	// Single assumes exactly one producer goroutine; claiming is a plain
	// atomic increment with no CAS contention.
	Single ProducerMode = iota
	// Multi allows any number of concurrent producers; claiming is a
	// CAS-claim loop on the shared producer cursor.
	Multi
)

const cacheLineSize = 64

// Sequence is a cache-line-padded monotone counter, used for both the
// producer cursor and every registered consumer's read position so that
// independent goroutines hammering their own Sequence never false-share a
// cache line with another goroutine's.
type Sequence struct {
	_     [cacheLineSize]byte
	value atomic.Int64
	_     [cacheLineSize - 8]byte
}

// NewSequence returns a Sequence initialized to initial.
func NewSequence(initial int64) *Sequence {
	s := &Sequence{}
	s.value.Store(initial)
	return s
}

// Load returns the current value.
func (s *Sequence) Load() int64 { return s.value.Load() }

// Store sets the value unconditionally.
func (s *Sequence) Store(v int64) { s.value.Store(v) }

// Add atomically adds delta and returns the new value.
func (s *Sequence) Add(delta int64) int64 { return s.value.Add(delta) }

// CompareAndSwap performs a CAS on the underlying value.
func (s *Sequence) CompareAndSwap(old, new int64) bool {
	return s.value.CompareAndSwap(old, new)
}

// Config configures a RingBuffer.
type Config struct {
	// Capacity is the number of slots; must be a power of two.
	Capacity int
	// Mode selects the Single or Multi producer claim strategy.
	Mode ProducerMode
	// Wait is the WaitStrategy consumers use while parked for new
	// sequences. Defaults to Sleeping(time.Microsecond) if nil.
	Wait WaitStrategy
}

// RingBuffer is a fixed-capacity slot array shared by one or more producers
// and one or more independent consumers, each consumer reading every
// published item at its own pace (a broadcast ring, not a work queue).
// Slot index is cursor & (capacity-1); a per-slot availability marker is
// only flipped after the slot's payload is fully written, so a consumer
// reading slot s after the barrier advances past s never observes a torn
// write (spec.md §8 invariant 8).
type RingBuffer struct {
	capacity int64
	mask     int64
	mode     ProducerMode
	wait     WaitStrategy

	slots     []atomic.Value
	available []atomic.Int64 // per-slot round marker; -1 means never published

	producerCursor *Sequence

	gatesMu sync.Mutex
	gates   []*Sequence

	published atomic.Int64
	consumed  atomic.Int64
}

// New constructs a RingBuffer per cfg. Returns ErrCapacityNotPowerOfTwo if
// Config.Capacity is not a power of two.
func New(cfg Config) (*RingBuffer, error) {
	if cfg.Capacity <= 0 || cfg.Capacity&(cfg.Capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacityNotPowerOfTwo, cfg.Capacity)
	}
	wait := cfg.Wait
	if wait == nil {
		wait = NewSleeping(0)
	}
	rb := &RingBuffer{
		capacity:       int64(cfg.Capacity),
		mask:           int64(cfg.Capacity - 1),
		mode:           cfg.Mode,
		wait:           wait,
		slots:          make([]atomic.Value, cfg.Capacity),
		available:      make([]atomic.Int64, cfg.Capacity),
		producerCursor: NewSequence(-1),
	}
	for i := range rb.available {
		rb.available[i].Store(-1)
	}
	return rb, nil
}

// Capacity returns the number of slots.
func (rb *RingBuffer) Capacity() int64 { return rb.capacity }

// NewConsumer registers and returns a new consumer Sequence starting before
// the first published item. The producer will stall (in the Single/Multi
// claim loop) rather than overwrite a slot this consumer has not yet read,
// for as long as the consumer remains registered.
func (rb *RingBuffer) NewConsumer() *Sequence {
	seq := NewSequence(-1)
	rb.gatesMu.Lock()
	rb.gates = append(rb.gates, seq)
	rb.gatesMu.Unlock()
	return seq
}

// Publish claims the next sequence, writes payload into its slot, and flips
// the slot's availability marker, then signals any parked consumers.
// Blocks, yielding the processor between checks (the consumer Wait strategy
// is not used here), if publishing would overwrite a slot the slowest
// registered consumer has not yet read.
func (rb *RingBuffer) Publish(ctx context.Context, payload any) (int64, error) {
	seq, err := rb.claim(ctx)
	if err != nil {
		return 0, err
	}
	idx := seq & rb.mask
	rb.slots[idx].Store(payload)
	rb.available[idx].Store(seq >> rb.shift())
	rb.published.Add(1)
	rb.wait.Signal()
	return seq, nil
}

// shift is log2(capacity), used to distinguish the current lap around the
// ring from the previous one at the same slot index.
func (rb *RingBuffer) shift() int64 {
	n := rb.capacity
	s := int64(0)
	for n > 1 {
		n >>= 1
		s++
	}
	return s
}

func (rb *RingBuffer) claim(ctx context.Context) (int64, error) {
	if rb.mode == Single {
		next := rb.producerCursor.Load() + 1
		if err := rb.awaitGate(ctx, next); err != nil {
			return 0, err
		}
		rb.producerCursor.Store(next)
		return next, nil
	}
	for {
		current := rb.producerCursor.Load()
		next := current + 1
		if err := rb.awaitGate(ctx, next); err != nil {
			return 0, err
		}
		if rb.producerCursor.CompareAndSwap(current, next) {
			return next, nil
		}
		runtime.Gosched()
	}
}

// awaitGate blocks until claiming sequence next would not lap the slowest
// registered consumer, implementing the backpressure spec.md §5 describes:
// a slower consumer stalls producers rather than corrupting unread slots.
func (rb *RingBuffer) awaitGate(ctx context.Context, next int64) error {
	wrapPoint := next - rb.capacity
	for i := 0; ; i++ {
		if wrapPoint <= rb.minGatingSequence() {
			return nil
		}
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		runtime.Gosched()
	}
}

func (rb *RingBuffer) minGatingSequence() int64 {
	rb.gatesMu.Lock()
	defer rb.gatesMu.Unlock()
	if len(rb.gates) == 0 {
		return math.MaxInt64
	}
	min := int64(math.MaxInt64)
	for _, g := range rb.gates {
		if v := g.Load(); v < min {
			min = v
		}
	}
	return min
}

// isAvailable reports whether seq's slot has been published for the lap
// seq belongs to (as opposed to holding a stale value from the previous
// lap through the same index).
func (rb *RingBuffer) isAvailable(seq int64) bool {
	idx := seq & rb.mask
	return rb.available[idx].Load() == seq>>rb.shift()
}

// highestPublished scans forward from from and returns the highest sequence
// that is contiguously available, so a consumer never observes a gap.
func (rb *RingBuffer) highestPublished(from, upTo int64) int64 {
	for seq := from; seq <= upTo; seq++ {
		if !rb.isAvailable(seq) {
			return seq - 1
		}
	}
	return upTo
}

// Next blocks until the sequence after consumer's current position is
// published, then returns that sequence and its payload and advances
// consumer by one. ctx cancellation unblocks the wait and returns ctx.Err().
func (rb *RingBuffer) Next(ctx context.Context, consumer *Sequence) (int64, any, error) {
	want := consumer.Load() + 1
	barrier := func() int64 {
		return rb.highestPublished(want, rb.producerCursor.Load())
	}
	if _, err := rb.wait.WaitFor(ctx, want, barrier); err != nil {
		return 0, nil, err
	}
	payload := rb.slots[want&rb.mask].Load()
	consumer.Store(want)
	rb.consumed.Add(1)
	return want, payload, nil
}

// Stats reports ring buffer counters.
type Stats struct {
	Published int64
	Consumed  int64
	Capacity  int64
}

// Stats returns current publish/consume counters.
func (rb *RingBuffer) Stats() Stats {
	return Stats{
		Published: rb.published.Load(),
		Consumed:  rb.consumed.Load(),
		Capacity:  rb.capacity,
	}
}
