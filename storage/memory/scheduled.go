package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/google/uuid"
)

// ScheduledMessageStorage is the in-memory reference
// storageport.ScheduledMessageStorage, grounded on core/queue.Scheduler's
// scheduledTask map. ClaimDue's exclusive Pending→Processing transition
// mirrors OutboxStorage's claim-under-mutex discipline applied to due-time
// polling instead of continuous polling.
type ScheduledMessageStorage struct {
	mu       sync.Mutex
	messages map[string]*storageport.ScheduledMessage
}

// NewScheduledMessageStorage returns an empty ScheduledMessageStorage.
func NewScheduledMessageStorage() *ScheduledMessageStorage {
	return &ScheduledMessageStorage{messages: make(map[string]*storageport.ScheduledMessage)}
}

func (s *ScheduledMessageStorage) Schedule(_ context.Context, msg *storageport.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = storageport.StatusPending
	}
	cp := *msg
	s.messages[cp.ID] = &cp
	return nil
}

func (s *ScheduledMessageStorage) ClaimDue(_ context.Context, before time.Time, limit int) ([]storageport.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []storageport.ScheduledMessage
	for _, msg := range s.messages {
		if len(due) >= limit {
			break
		}
		if msg.Status != storageport.StatusPending {
			continue
		}
		if msg.DueAt.After(before) {
			continue
		}
		msg.Status = storageport.StatusProcessing
		due = append(due, *msg)
	}
	return due, nil
}

func (s *ScheduledMessageStorage) MarkDispatched(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("memory: scheduled message not found: %s", id)
	}
	msg.Status = storageport.StatusCompleted
	return nil
}

func (s *ScheduledMessageStorage) MarkFailed(_ context.Context, id string, cause error, retry bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("memory: scheduled message not found: %s", id)
	}
	msg.AttemptCount++
	if cause != nil {
		msg.LastError = cause.Error()
	}
	if retry {
		msg.Status = storageport.StatusPending
	} else {
		msg.Status = storageport.StatusFailed
	}
	return nil
}

func (s *ScheduledMessageStorage) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("memory: scheduled message not found: %s", id)
	}
	msg.Status = storageport.StatusCancelled
	return nil
}

func (s *ScheduledMessageStorage) CleanupDelivered(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, msg := range s.messages {
		if msg.Status == storageport.StatusCompleted && msg.DueAt.Before(before) {
			delete(s.messages, id)
			removed++
		}
	}
	return removed, nil
}

var _ storageport.ScheduledMessageStorage = (*ScheduledMessageStorage)(nil)
