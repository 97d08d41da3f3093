package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// OutboxStore implements storageport.OutboxStorage over heromessaging_outbox,
// grounded on core/queue.MemoryStorage's claim-by-status-and-due-time shape
// translated into a single atomic UPDATE ... RETURNING claim, the row-lock
// equivalent of the in-memory mutex.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore builds an OutboxStore over pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

func (s *OutboxStore) Append(ctx context.Context, entry *storageport.OutboxEntry) error {
	const query = `
		INSERT INTO heromessaging_outbox
			(id, message_name, payload, content_type, status, attempts, max_attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := q(ctx, s.pool).Exec(ctx, query,
		entry.ID, entry.MessageName, entry.Payload, entry.ContentType,
		storageport.StatusPending, entry.Attempts, entry.MaxAttempts, entry.AvailableAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: outbox append: %w", err)
	}
	return nil
}

func (s *OutboxStore) ClaimPending(ctx context.Context, owner string, limit int, lockUntil time.Time) ([]storageport.OutboxEntry, error) {
	const query = `
		UPDATE heromessaging_outbox
		SET status = $1, locked_by = $2, locked_until = $3
		WHERE id IN (
			SELECT id FROM heromessaging_outbox
			WHERE status = $4 AND available_at <= now()
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_name, payload, content_type, status, attempts, max_attempts,
			last_error, available_at, locked_by, locked_until, created_at`
	rows, err := q(ctx, s.pool).Query(ctx, query,
		storageport.StatusProcessing, owner, lockUntil, storageport.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: outbox claim: %w", err)
	}
	defer rows.Close()

	var entries []storageport.OutboxEntry
	for rows.Next() {
		var e storageport.OutboxEntry
		var lockedUntil *time.Time
		if err := rows.Scan(&e.ID, &e.MessageName, &e.Payload, &e.ContentType, &e.Status,
			&e.Attempts, &e.MaxAttempts, &e.LastError, &e.AvailableAt, &e.LockedBy, &lockedUntil, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: outbox claim scan: %w", err)
		}
		if lockedUntil != nil {
			e.LockedUntil = *lockedUntil
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkCompleted(ctx context.Context, id string) error {
	const query = `UPDATE heromessaging_outbox SET status = $1 WHERE id = $2`
	tag, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("postgres: outbox mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: outbox mark completed: %w", pgx.ErrNoRows)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	const query = `
		UPDATE heromessaging_outbox
		SET status = $1, attempts = attempts + 1, last_error = $2, available_at = $3, locked_by = '', locked_until = NULL
		WHERE id = $4`
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusPending, msg, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("postgres: outbox mark failed: %w", err)
	}
	return nil
}

func (s *OutboxStore) MoveToDeadLetter(ctx context.Context, id string, reason string) error {
	const query = `UPDATE heromessaging_outbox SET status = $1, last_error = $2 WHERE id = $3`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusDeadLetter, reason, id)
	if err != nil {
		return fmt.Errorf("postgres: outbox dead-letter: %w", err)
	}
	return nil
}

var _ storageport.OutboxStorage = (*OutboxStore)(nil)
