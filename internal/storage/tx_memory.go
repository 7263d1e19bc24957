package storage

import (
	"context"
	"sync"

	dErrors "boxoffice/pkg/domain-errors"
	txcontext "boxoffice/pkg/platform/tx"
)

// Checkpointer is implemented by the in-memory stores: Checkpoint snapshots
// state and returns a func that restores it.
type Checkpointer interface {
	Checkpoint() func()
}

// MemoryTx serializes units of work with one mutex and restores every
// participant's checkpoint when fn fails. Reads outside a unit of work are not
// blocked.
type MemoryTx struct {
	mu           sync.Mutex
	stores       Stores
	participants []Checkpointer
}

// NewMemoryTx builds a runner over stores. Participants are rolled back
// together; pass every in-memory store written inside a unit of work,
// including the audit store.
func NewMemoryTx(stores Stores, participants ...Checkpointer) *MemoryTx {
	return &MemoryTx{stores: stores, participants: participants}
}

func (t *MemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if txcontext.InMemoryUnit(ctx) {
		return fn(ctx, t.stores)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), len(t.participants))
	for i, p := range t.participants {
		restores[i] = p.Checkpoint()
	}

	if err := fn(txcontext.WithMemoryUnit(ctx), t.stores); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
