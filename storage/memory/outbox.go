// Package memory provides in-process reference implementations of every
// storageport interface, grounded on core/queue.MemoryStorage's
// mutex-guarded-map shape. No background loop runs here: a claimed entry's
// LockedUntil is recorded but never returns it to Pending.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// OutboxStorage is the in-memory reference storageport.OutboxStorage,
// generalizing core/queue.MemoryStorage's task map from "tasks" to "outbox
// entries". Entries live in one map keyed by ID; ClaimPending scans it, as
// there is no per-status index.
type OutboxStorage struct {
	mu      sync.Mutex
	entries map[string]*storageport.OutboxEntry
}

// NewOutboxStorage returns an empty OutboxStorage.
func NewOutboxStorage() *OutboxStorage {
	return &OutboxStorage{entries: make(map[string]*storageport.OutboxEntry)}
}

func (s *OutboxStorage) Append(_ context.Context, entry *storageport.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = storageport.StatusPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	s.entries[cp.ID] = &cp
	return nil
}

// ClaimPending mirrors core/queue.MemoryStorage.ClaimTask's claim algorithm:
// scan pending-and-due entries, claim up to limit by locking them to owner.
func (s *OutboxStorage) ClaimPending(_ context.Context, owner string, limit int, lockUntil time.Time) ([]storageport.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var claimed []storageport.OutboxEntry
	for _, entry := range s.entries {
		if len(claimed) >= limit {
			break
		}
		if entry.Status != storageport.StatusPending {
			continue
		}
		if entry.AvailableAt.After(now) {
			continue
		}
		entry.Status = storageport.StatusProcessing
		entry.LockedBy = owner
		entry.LockedUntil = lockUntil
		claimed = append(claimed, *entry)
	}
	return claimed, nil
}

func (s *OutboxStorage) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: outbox entry not found: %s", id)
	}
	entry.Status = storageport.StatusCompleted
	return nil
}

func (s *OutboxStorage) MarkFailed(_ context.Context, id string, cause error, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: outbox entry not found: %s", id)
	}
	entry.Attempts++
	entry.LastError = cause.Error()
	entry.Status = storageport.StatusPending
	entry.AvailableAt = nextAttemptAt
	return nil
}

func (s *OutboxStorage) MoveToDeadLetter(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: outbox entry not found: %s", id)
	}
	entry.Status = storageport.StatusDeadLetter
	entry.LastError = reason
	return nil
}
