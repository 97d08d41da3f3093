package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// InboxStorage is the in-memory reference storageport.InboxStorage.
type InboxStorage struct {
	mu      sync.Mutex
	records map[string]storageport.InboxRecord
}

// NewInboxStorage returns an empty InboxStorage.
func NewInboxStorage() *InboxStorage {
	return &InboxStorage{records: make(map[string]storageport.InboxRecord)}
}

func (s *InboxStorage) TryInsert(_ context.Context, messageID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.records[messageID]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	s.records[messageID] = storageport.InboxRecord{
		MessageID: messageID,
		HandledAt: now,
		ExpiresAt: expiresAt,
	}
	return true, nil
}

func (s *InboxStorage) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.ExpiresAt.Before(before) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
