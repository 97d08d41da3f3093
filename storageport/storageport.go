// Package storageport declares the persistence contracts the outbox, inbox,
// scheduler, and saga engines are built against. Concrete backends (storage/memory,
// storage/postgres, storage/redis) are reference adapters; the engines never
// import a concrete backend directly, mirroring how core/queue.Worker and
// core/queue.Scheduler depend only on *Repository interfaces, never on
// core/queue.MemoryStorage.
package storageport

import (
	"context"
	"time"
)

// EntryStatus is the lifecycle state of a persisted outbox or queue entry.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusCompleted  EntryStatus = "completed"
	StatusFailed     EntryStatus = "failed"
	StatusDeadLetter EntryStatus = "dead_letter"
)

// OutboxEntry is a row claimed and processed by an outbox.Processor. Payload
// is the serialized envelope+message produced by a serializer.Serializer.
type OutboxEntry struct {
	ID          string
	MessageName string
	Payload     []byte
	ContentType string
	Status      EntryStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	AvailableAt time.Time
	LockedBy    string
	LockedUntil time.Time
	CreatedAt   time.Time
}

// OutboxStorage persists and hands out outbox entries for at-least-once
// publication. Grounded on core/queue's WorkerRepository claim/complete/fail/DLQ
// shape, generalized from "tasks" to "outbox entries".
type OutboxStorage interface {
	// Append inserts a new pending entry in the same transaction as the
	// business write it accompanies, when called within a StorageTransaction.
	Append(ctx context.Context, entry *OutboxEntry) error

	// ClaimPending atomically claims up to limit entries that are pending and
	// due (AvailableAt <= now), marking them Processing and locked to owner
	// until lockUntil.
	ClaimPending(ctx context.Context, owner string, limit int, lockUntil time.Time) ([]OutboxEntry, error)

	// MarkCompleted transitions an entry to Completed.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed records a failed attempt, incrementing Attempts and
	// returning the entry to Pending with AvailableAt set to nextAttemptAt.
	// It does not check attempts against a limit; the caller moves an
	// exhausted entry with MoveToDeadLetter instead.
	MarkFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error

	// MoveToDeadLetter transitions an entry to DeadLetter after attempts are
	// exhausted, per spec.md's retry-then-DLQ contract.
	MoveToDeadLetter(ctx context.Context, id string, reason string) error
}

// InboxRecord marks a message as seen for at-most-once handler invocation.
type InboxRecord struct {
	MessageID string
	HandledAt time.Time
	ExpiresAt time.Time
}

// InboxStorage deduplicates inbound messages within a configured dedup window.
type InboxStorage interface {
	// TryInsert attempts to record messageID as seen, expiring at expiresAt.
	// inserted is false when messageID was already present and unexpired,
	// signalling the caller to discard the message as a duplicate.
	TryInsert(ctx context.Context, messageID string, expiresAt time.Time) (inserted bool, err error)

	// Purge removes expired records; called periodically by inbox.Purger.
	Purge(ctx context.Context, before time.Time) (removed int, err error)
}

// QueueEntry is a unit of work in the bounded channel/ring-buffer transport's
// durable fallback path (spec §4.9's storage-backed queue variant).
type QueueEntry struct {
	ID          string
	Queue       string
	Payload     []byte
	ContentType string
	Status      EntryStatus
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedBy    string
	LockedUntil time.Time
}

// QueueStorage backs a durable queue transport, grounded on
// core/queue.WorkerRepository + core/queue.EnqueuerRepository combined.
type QueueStorage interface {
	Enqueue(ctx context.Context, entry *QueueEntry) error
	Claim(ctx context.Context, owner string, queue string, limit int, lockUntil time.Time) ([]QueueEntry, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
	MoveToDeadLetter(ctx context.Context, id string, reason string) error
}

// StatusCancelled is a terminal ScheduledMessage status for entries
// cancelled before delivery, per spec.md §3's Scheduled message status enum
// {Pending, Delivering, Delivered, Cancelled, Failed}.
const StatusCancelled EntryStatus = "cancelled"

// ScheduledMessage is a message held for dispatch at a future instant,
// grounded on core/queue.Scheduler's scheduledTask. Status realizes
// spec.md §3's {Pending, Delivering, Delivered, Cancelled, Failed} enum via
// the shared EntryStatus type (Processing standing in for "Delivering" and
// Completed for "Delivered", the same substitution OutboxEntry makes).
type ScheduledMessage struct {
	ID           string
	MessageName  string
	Payload      []byte
	ContentType  string
	DueAt        time.Time
	Status       EntryStatus
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
}

// ScheduledMessageStorage persists messages scheduled for future delivery.
type ScheduledMessageStorage interface {
	Schedule(ctx context.Context, msg *ScheduledMessage) error

	// ClaimDue atomically transitions up to limit Pending entries whose
	// DueAt has passed to Processing ("Delivering") and returns them,
	// giving the caller an exclusive claim so concurrent pollers never
	// dispatch the same entry twice.
	ClaimDue(ctx context.Context, before time.Time, limit int) ([]ScheduledMessage, error)

	// MarkDispatched transitions a claimed entry to Completed ("Delivered").
	MarkDispatched(ctx context.Context, id string) error

	// MarkFailed records a failed delivery attempt, incrementing
	// AttemptCount. The caller decides (via attemptCount/maxAttempts) and
	// passes retry=true to return the entry to Pending for another attempt,
	// or retry=false to leave it Failed (terminal).
	MarkFailed(ctx context.Context, id string, cause error, retry bool) error

	// Cancel transitions a not-yet-claimed entry to Cancelled.
	Cancel(ctx context.Context, id string) error

	// CleanupDelivered deletes Completed entries whose DueAt is older than
	// before, per spec.md §4.7's auto_cleanup/cleanup_age contract.
	CleanupDelivered(ctx context.Context, before time.Time) (int, error)
}

// SagaInstance is one running orchestration, keyed by CorrelationID. Data is
// the serialized saga-specific data; Version implements optimistic
// concurrency control on Save.
type SagaInstance struct {
	CorrelationID string
	SagaName      string
	CurrentState  string
	Data          []byte
	ContentType   string
	Version       int
	TimeoutAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Completed     bool
}

// ErrVersionConflict is returned by SagaRepository.Save when the stored
// version no longer matches the expected version, signalling a concurrent
// update the orchestrator must reload and retry.
var ErrVersionConflict = errVersionConflict{}

type errVersionConflict struct{}

func (errVersionConflict) Error() string { return "saga: version conflict" }

// ErrSagaNotFound is returned by SagaRepository.Load when no instance exists
// for the given correlation ID.
var ErrSagaNotFound = errSagaNotFound{}

type errSagaNotFound struct{}

func (errSagaNotFound) Error() string { return "saga: instance not found" }

// SagaRepository persists saga instances with optimistic concurrency,
// grounded on the teacher's general repository shape (load/save by key) since
// no teacher package covers orchestration directly.
type SagaRepository interface {
	Load(ctx context.Context, correlationID string) (*SagaInstance, error)

	// Save writes instance, failing with ErrVersionConflict if the stored
	// version does not equal instance.Version-1 (i.e. someone else won the
	// race to persist the prior version).
	Save(ctx context.Context, instance *SagaInstance) error

	// FindTimedOut returns saga instances whose TimeoutAt has passed and that
	// are not yet Completed, for the timeout sweeper to convert into
	// synthetic Timeout events.
	FindTimedOut(ctx context.Context, before time.Time) ([]SagaInstance, error)
}

// StorageTransaction scopes a unit of work across multiple storage calls, the
// way integration/database/pg's WithTx/TxFromContext does for Postgres.
type StorageTransaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager begins a StorageTransaction and threads it through ctx so
// that port implementations (OutboxStorage.Append alongside a business write,
// for instance) participate in the same transaction transparently.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
