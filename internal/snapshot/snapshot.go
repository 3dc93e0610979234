// Package snapshot persists durable per-session records. One record per
// agent, overwritten after each accepted callback; not an append-only log.
package snapshot

import (
	"context"

	"github.com/outfleet/beacon/internal/session"
)

// Store writes and reads session snapshots. Save is called on the
// callback path and must be cheap; failures there are logged by the
// caller, never surfaced to the agent.
type Store interface {
	Save(ctx context.Context, snap session.Snapshot) error
	List(ctx context.Context) ([]session.Snapshot, error)
}
