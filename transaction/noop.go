package transaction

import "context"

// NoopManager is a TransactionManager that runs fn directly without opening
// any real transaction, for storage backends (or tests) where atomicity is
// either unnecessary or already guaranteed by a single-writer principle
// (e.g. storage/memory's mutex-guarded maps).
type NoopManager struct{}

func (NoopManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
