package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// ScheduledMessageStore implements storageport.ScheduledMessageStorage over
// heromessaging_scheduled_messages, grounded on core/queue.Scheduler's
// due-time poll-and-claim loop with the same atomic UPDATE ... RETURNING
// claim OutboxStore.ClaimPending uses, FOR UPDATE SKIP LOCKED substituting
// for the in-memory min-heap's single-writer lock.
type ScheduledMessageStore struct {
	pool *pgxpool.Pool
}

// NewScheduledMessageStore builds a ScheduledMessageStore over pool.
func NewScheduledMessageStore(pool *pgxpool.Pool) *ScheduledMessageStore {
	return &ScheduledMessageStore{pool: pool}
}

func (s *ScheduledMessageStore) Schedule(ctx context.Context, msg *storageport.ScheduledMessage) error {
	const query = `
		INSERT INTO heromessaging_scheduled_messages
			(id, message_name, payload, content_type, due_at, status, attempt_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	status := msg.Status
	if status == "" {
		status = storageport.StatusPending
	}
	_, err := q(ctx, s.pool).Exec(ctx, query,
		msg.ID, msg.MessageName, msg.Payload, msg.ContentType, msg.DueAt,
		status, msg.AttemptCount, msg.LastError, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: schedule: %w", err)
	}
	return nil
}

// ClaimDue atomically transitions up to limit due Pending entries to
// Processing ("Delivering"), the same UPDATE...RETURNING + FOR UPDATE SKIP
// LOCKED shape as OutboxStore.ClaimPending, so concurrent schedulers never
// dispatch the same entry twice.
func (s *ScheduledMessageStore) ClaimDue(ctx context.Context, before time.Time, limit int) ([]storageport.ScheduledMessage, error) {
	const query = `
		UPDATE heromessaging_scheduled_messages
		SET status = $1
		WHERE id IN (
			SELECT id FROM heromessaging_scheduled_messages
			WHERE status = $2 AND due_at <= $3
			ORDER BY due_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_name, payload, content_type, due_at, status, attempt_count, last_error, created_at`
	rows, err := q(ctx, s.pool).Query(ctx, query,
		storageport.StatusProcessing, storageport.StatusPending, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim due: %w", err)
	}
	defer rows.Close()

	var out []storageport.ScheduledMessage
	for rows.Next() {
		var m storageport.ScheduledMessage
		if err := rows.Scan(&m.ID, &m.MessageName, &m.Payload, &m.ContentType, &m.DueAt,
			&m.Status, &m.AttemptCount, &m.LastError, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: claim due scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ScheduledMessageStore) MarkDispatched(ctx context.Context, id string) error {
	const query = `UPDATE heromessaging_scheduled_messages SET status = $1 WHERE id = $2`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("postgres: mark dispatched: %w", err)
	}
	return nil
}

func (s *ScheduledMessageStore) MarkFailed(ctx context.Context, id string, cause error, retry bool) error {
	status := storageport.StatusFailed
	if retry {
		status = storageport.StatusPending
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	const query = `
		UPDATE heromessaging_scheduled_messages
		SET status = $1, attempt_count = attempt_count + 1, last_error = $2
		WHERE id = $3`
	_, err := q(ctx, s.pool).Exec(ctx, query, status, msg, id)
	if err != nil {
		return fmt.Errorf("postgres: mark failed: %w", err)
	}
	return nil
}

func (s *ScheduledMessageStore) Cancel(ctx context.Context, id string) error {
	const query = `UPDATE heromessaging_scheduled_messages SET status = $1 WHERE id = $2`
	_, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusCancelled, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel scheduled: %w", err)
	}
	return nil
}

func (s *ScheduledMessageStore) CleanupDelivered(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM heromessaging_scheduled_messages WHERE status = $1 AND due_at < $2`
	tag, err := q(ctx, s.pool).Exec(ctx, query, storageport.StatusCompleted, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup delivered: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ storageport.ScheduledMessageStorage = (*ScheduledMessageStore)(nil)
