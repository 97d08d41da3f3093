package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// QueueStore implements storageport.QueueStorage over heromessaging_queue,
// a durable fallback for the in-process channel/ring-buffer transports,
// grounded on core/queue.Worker's claim/complete/fail/DLQ shape.
type QueueStore struct {
	pool *pgxpool.Pool
}

// NewQueueStore builds a QueueStore over pool.
func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

func (s *QueueStore) Enqueue(ctx context.Context, entry *storageport.QueueEntry) error {
	const query = `
		INSERT INTO heromessaging_queue
			(id, queue, payload, content_type, status, attempts, max_attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`
	_, err := q(ctx, s.pool).Exec(ctx, query,
		entry.ID, entry.Queue, entry.Payload, entry.ContentType,
		storageport.StatusPending, entry.Attempts, entry.MaxAttempts, entry.AvailableAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: queue enqueue: %w", err)
	}
	return nil
}

func (s *QueueStore) Claim(ctx context.Context, owner string, queue string, limit int, lockUntil time.Time) ([]storageport.QueueEntry, error) {
	const query = `
		UPDATE heromessaging_queue
		SET status = $1, locked_by = $2, locked_until = $3
		WHERE id IN (
			SELECT id FROM heromessaging_queue
			WHERE queue = $4 AND status = $5 AND available_at <= now()
			ORDER BY available_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, content_type, status, attempts, max_attempts,
			available_at, locked_by, locked_until`
	rows, err := q(ctx, s.pool).Query(ctx, query,
		storageport.StatusProcessing, owner, lockUntil, queue, storageport.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: queue claim: %w", err)
	}
	defer rows.Close()

	var out []storageport.QueueEntry
	for rows.Next() {
		var e storageport.QueueEntry
		var lockedUntil *time.Time
		if err := rows.Scan(&e.ID, &e.Queue, &e.Payload, &e.ContentType, &e.Status,
			&e.Attempts, &e.MaxAttempts, &e.AvailableAt, &e.LockedBy, &lockedUntil); err != nil {
			return nil, fmt.Errorf("postgres: queue claim scan: %w", err)
		}
		if lockedUntil != nil {
			e.LockedUntil = *lockedUntil
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *QueueStore) Complete(ctx context.Context, id string) error {
	const query = `UPDATE heromessaging_queue SET status = $1 WHERE id = $2`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("postgres: queue complete: %w", err)
	}
	return nil
}

func (s *QueueStore) Fail(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	const query = `
		UPDATE heromessaging_queue
		SET status = $1, attempts = attempts + 1, available_at = $2, locked_by = '', locked_until = NULL
		WHERE id = $3`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusPending, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("postgres: queue fail: %w", err)
	}
	return nil
}

func (s *QueueStore) MoveToDeadLetter(ctx context.Context, id string, reason string) error {
	const query = `UPDATE heromessaging_queue SET status = $1 WHERE id = $2`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusDeadLetter, id)
	if err != nil {
		return fmt.Errorf("postgres: queue dead-letter: %w", err)
	}
	return nil
}

var _ storageport.QueueStorage = (*QueueStore)(nil)
