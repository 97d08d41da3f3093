package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// InboxStore implements storageport.InboxStorage over heromessaging_inbox,
// relying on the table's primary key to make a duplicate TryInsert a no-op
// rather than an error while the stored record is unexpired, and to replace
// the record once it has expired — the database-level equivalent of the
// in-memory adapter's exists-and-unexpired check.
type InboxStore struct {
	pool *pgxpool.Pool
}

// NewInboxStore builds an InboxStore over pool.
func NewInboxStore(pool *pgxpool.Pool) *InboxStore {
	return &InboxStore{pool: pool}
}

func (s *InboxStore) TryInsert(ctx context.Context, messageID string, expiresAt time.Time) (bool, error) {
	const query = `
		INSERT INTO heromessaging_inbox (message_id, handled_at, expires_at)
		VALUES ($1, now(), $2)
		ON CONFLICT (message_id) DO UPDATE
			SET handled_at = now(), expires_at = EXCLUDED.expires_at
			WHERE heromessaging_inbox.expires_at <= now()`
	tag, err := q(ctx, s.pool).Exec(ctx, query, messageID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres: inbox try insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *InboxStore) Purge(ctx context.Context, before time.Time) (int, error) {
	const query = `DELETE FROM heromessaging_inbox WHERE expires_at < $1`
	tag, err := q(ctx, s.pool).Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: inbox purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ storageport.InboxStorage = (*InboxStore)(nil)
