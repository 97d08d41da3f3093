package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// SagaRepository is the in-memory reference storageport.SagaRepository. No
// teacher package covers saga persistence; the optimistic-concurrency check
// generalizes the same "compare before mutate" discipline core/queue applies
// to task status transitions under its mutex.
type SagaRepository struct {
	mu        sync.Mutex
	instances map[string]*storageport.SagaInstance
}

// NewSagaRepository returns an empty SagaRepository.
func NewSagaRepository() *SagaRepository {
	return &SagaRepository{instances: make(map[string]*storageport.SagaInstance)}
}

func (r *SagaRepository) Load(_ context.Context, correlationID string) (*storageport.SagaInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.instances[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storageport.ErrSagaNotFound, correlationID)
	}
	cp := *instance
	return &cp, nil
}

func (r *SagaRepository) Save(_ context.Context, instance *storageport.SagaInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.instances[instance.CorrelationID]
	if !ok {
		if instance.Version != 1 {
			return storageport.ErrVersionConflict
		}
	} else if existing.Version != instance.Version-1 {
		return storageport.ErrVersionConflict
	}

	instance.UpdatedAt = time.Now().UTC()
	cp := *instance
	r.instances[instance.CorrelationID] = &cp
	return nil
}

func (r *SagaRepository) FindTimedOut(_ context.Context, before time.Time) ([]storageport.SagaInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var timedOut []storageport.SagaInstance
	for _, instance := range r.instances {
		if instance.Completed || instance.TimeoutAt == nil {
			continue
		}
		if instance.TimeoutAt.After(before) {
			continue
		}
		timedOut = append(timedOut, *instance)
	}
	return timedOut, nil
}
