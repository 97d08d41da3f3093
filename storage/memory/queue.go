package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// QueueStorage is the in-memory reference storageport.QueueStorage backing
// transport/channel's durable fallback path.
type QueueStorage struct {
	mu      sync.Mutex
	entries map[string]*storageport.QueueEntry
}

// NewQueueStorage returns an empty QueueStorage.
func NewQueueStorage() *QueueStorage {
	return &QueueStorage{entries: make(map[string]*storageport.QueueEntry)}
}

func (s *QueueStorage) Enqueue(_ context.Context, entry *storageport.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = storageport.StatusPending
	}
	cp := *entry
	s.entries[cp.ID] = &cp
	return nil
}

func (s *QueueStorage) Claim(_ context.Context, owner, queue string, limit int, lockUntil time.Time) ([]storageport.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var claimed []storageport.QueueEntry
	for _, entry := range s.entries {
		if len(claimed) >= limit {
			break
		}
		if entry.Queue != queue || entry.Status != storageport.StatusPending {
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

func (s *QueueStorage) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: queue entry not found: %s", id)
	}
	entry.Status = storageport.StatusCompleted
	return nil
}

func (s *QueueStorage) Fail(_ context.Context, id string, cause error, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: queue entry not found: %s", id)
	}
	entry.Attempts++
	entry.Status = storageport.StatusPending
	entry.AvailableAt = nextAttemptAt
	_ = cause
	return nil
}

func (s *QueueStorage) MoveToDeadLetter(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("memory: queue entry not found: %s", id)
	}
	entry.Status = storageport.StatusDeadLetter
	_ = reason
	return nil
}
