// Package transaction wraps dispatcher calls in a storageport.StorageTransaction
// unit of work, grounded on integration/database/pg's WithTx/TxFromContext
// pattern: a transaction is begun, threaded through ctx, and committed or
// rolled back around the wrapped handler invocation.
package transaction

import (
	"context"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/storageport"
)

// Decorator returns a dispatcher.Decorator that begins a unit of work via mgr
// before invoking next, committing on success and rolling back on error or
// panic. It sits directly below Resilience and above Idempotency in the
// canonical pipeline order, so a retried call gets a fresh transaction per
// attempt and a cached idempotent response never opens one at all.
func Decorator(mgr storageport.TransactionManager) dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			var result any
			err := mgr.WithinTransaction(ctx, func(txCtx context.Context) error {
				var innerErr error
				result, innerErr = next(txCtx, env, payload)
				return innerErr
			})
			return result, err
		}
	}
}
