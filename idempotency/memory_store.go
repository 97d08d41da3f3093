package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is the in-process reference Store, grounded on
// pkg/ratelimiter.MemoryStore: a mutex-guarded map plus a periodic cleanup
// goroutine sweeping expired entries.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record

	cleanupInterval time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	recordsStored  atomic.Int64
	recordsExpired atomic.Int64
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often expired records are swept. Zero
// disables automatic cleanup.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) { ms.cleanupInterval = interval }
}

// WithMemoryStoreLogger overrides the default no-op logger.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// NewMemoryStore returns a MemoryStore; call Start to begin background
// cleanup, or rely on lazy expiry checks in Get alone for short-lived tests.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		records:         make(map[string]*Record),
		cleanupInterval: 5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) Get(_ context.Context, key string) (*Record, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	record, exists := ms.records[key]
	if !exists || time.Now().UTC().After(record.ExpiresAt) {
		return nil, false, nil
	}
	return record, true, nil
}

func (ms *MemoryStore) Put(_ context.Context, record *Record) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.records[record.Key] = record
	ms.recordsStored.Add(1)
	return nil
}

// Start begins the background cleanup loop and blocks until ctx is
// cancelled, matching pkg/ratelimiter.MemoryStore.Start's contract.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return fmt.Errorf("idempotency: memory store already started")
	}
	if ms.cleanupInterval <= 0 {
		ms.mu.Unlock()
		return fmt.Errorf("idempotency: cleanup interval must be > 0")
	}
	ms.ctx, ms.cancel = context.WithCancel(ctx)
	ms.running.Store(true)
	ms.mu.Unlock()

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	ms.logger.InfoContext(ctx, "idempotency memory store started",
		slog.Duration("cleanup_interval", ms.cleanupInterval))

	for {
		select {
		case <-ms.ctx.Done():
			ms.running.Store(false)
			return nil
		case <-ticker.C:
			ms.cleanup()
		}
	}
}

// Stop cancels the cleanup loop and returns at once; it does not wait for
// Start to return, and shutdownTimeout is not consulted.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return fmt.Errorf("idempotency: memory store not started")
	}
	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()
	return nil
}

// Run provides errgroup compatibility, matching core/queue and
// pkg/ratelimiter's Run convention.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error { return ms.Start(ctx) }
}

func (ms *MemoryStore) cleanup() {
	now := time.Now().UTC()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for key, record := range ms.records {
		if now.After(record.ExpiresAt) {
			delete(ms.records, key)
			ms.recordsExpired.Add(1)
		}
	}
}

// MemoryStoreStats reports observability counters.
type MemoryStoreStats struct {
	RecordsStored  int64
	RecordsExpired int64
	ActiveRecords  int
	IsRunning      bool
}

func (ms *MemoryStore) Stats() MemoryStoreStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return MemoryStoreStats{
		RecordsStored:  ms.recordsStored.Load(),
		RecordsExpired: ms.recordsExpired.Load(),
		ActiveRecords:  len(ms.records),
		IsRunning:      ms.running.Load(),
	}
}
