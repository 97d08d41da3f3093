package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/heromessaging/storageport"
)

// SagaRepository implements storageport.SagaRepository over
// heromessaging_sagas. Save enforces optimistic concurrency the same way
// storage/memory.SagaRepository does (compare the stored version before
// mutating), substituting a conditional UPDATE/INSERT for the in-memory
// mutex-guarded compare-then-write.
type SagaRepository struct {
	pool *pgxpool.Pool
}

// NewSagaRepository builds a SagaRepository over pool.
func NewSagaRepository(pool *pgxpool.Pool) *SagaRepository {
	return &SagaRepository{pool: pool}
}

func (r *SagaRepository) Load(ctx context.Context, correlationID string) (*storageport.SagaInstance, error) {
	const query = `
		SELECT correlation_id, saga_name, current_state, data, content_type, version,
			timeout_at, completed, created_at, updated_at
		FROM heromessaging_sagas WHERE correlation_id = $1`
	row := q(ctx, r.pool).QueryRow(ctx, query, correlationID)

	var instance storageport.SagaInstance
	var timeoutAt *time.Time
	err := row.Scan(&instance.CorrelationID, &instance.SagaName, &instance.CurrentState,
		&instance.Data, &instance.ContentType, &instance.Version,
		&timeoutAt, &instance.Completed, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", storageport.ErrSagaNotFound, correlationID)
		}
		return nil, fmt.Errorf("postgres: saga load: %w", err)
	}
	instance.TimeoutAt = timeoutAt
	return &instance, nil
}

func (r *SagaRepository) Save(ctx context.Context, instance *storageport.SagaInstance) error {
	if instance.Version == 1 {
		const insert = `
			INSERT INTO heromessaging_sagas
				(correlation_id, saga_name, current_state, data, content_type, version,
					timeout_at, completed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (correlation_id) DO NOTHING`
		tag, err := q(ctx, r.pool).Exec(ctx, insert,
			instance.CorrelationID, instance.SagaName, instance.CurrentState, instance.Data,
			instance.ContentType, instance.Version, instance.TimeoutAt, instance.Completed, instance.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: saga save: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storageport.ErrVersionConflict
		}
		return nil
	}

	const update = `
		UPDATE heromessaging_sagas
		SET current_state = $1, data = $2, content_type = $3, version = $4,
			timeout_at = $5, completed = $6, updated_at = now()
		WHERE correlation_id = $7 AND version = $8`
	tag, err := q(ctx, r.pool).Exec(ctx, update,
		instance.CurrentState, instance.Data, instance.ContentType, instance.Version,
		instance.TimeoutAt, instance.Completed, instance.CorrelationID, instance.Version-1,
	)
	if err != nil {
		return fmt.Errorf("postgres: saga save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storageport.ErrVersionConflict
	}
	return nil
}

func (r *SagaRepository) FindTimedOut(ctx context.Context, before time.Time) ([]storageport.SagaInstance, error) {
	const query = `
		SELECT correlation_id, saga_name, current_state, data, content_type, version,
			timeout_at, completed, created_at, updated_at
		FROM heromessaging_sagas
		WHERE NOT completed AND timeout_at IS NOT NULL AND timeout_at <= $1`
	rows, err := q(ctx, r.pool).Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: saga find timed out: %w", err)
	}
	defer rows.Close()

	var out []storageport.SagaInstance
	for rows.Next() {
		var instance storageport.SagaInstance
		var timeoutAt *time.Time
		if err := rows.Scan(&instance.CorrelationID, &instance.SagaName, &instance.CurrentState,
			&instance.Data, &instance.ContentType, &instance.Version,
			&timeoutAt, &instance.Completed, &instance.CreatedAt, &instance.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: saga find timed out scan: %w", err)
		}
		instance.TimeoutAt = timeoutAt
		out = append(out, instance)
	}
	return out, rows.Err()
}

var _ storageport.SagaRepository = (*SagaRepository)(nil)
