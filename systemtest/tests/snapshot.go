package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/snapshot"
	"github.com/outfleet/beacon/internal/telemetry"
)

// TestSnapshotRoundTrip writes one snapshot and reads it back through the
// real database.
func TestSnapshotRoundTrip(t *testing.T, ctx context.Context, store *snapshot.PostgresStore) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := session.Snapshot{
		AgentID:        "roundtrip-agent",
		DisplayName:    "Round Trip",
		Address:        "10.0.0.5:0",
		Capabilities:   []string{"telemetry", "keystrokes"},
		FirstSeen:      base,
		LastSeen:       base.Add(time.Minute),
		TotalCallbacks: 3,
		Status:         map[string]any{"monitoring_enabled": true},
		Events: []telemetry.Event{
			{Timestamp: base, Kind: "clipboard", Data: json.RawMessage(`{"text":"hi"}`)},
		},
		Keystrokes: []telemetry.Event{
			{Timestamp: base, Kind: "keystroke", Data: json.RawMessage(`{"key":"a"}`)},
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	got := findSnapshot(t, ctx, store, "roundtrip-agent")
	assert.Equal(t, "Round Trip", got.DisplayName)
	assert.Equal(t, "10.0.0.5:0", got.Address)
	assert.Equal(t, []string{"telemetry", "keystrokes"}, got.Capabilities)
	assert.Equal(t, int64(3), got.TotalCallbacks)
	assert.Equal(t, true, got.Status["monitoring_enabled"])
	require.Len(t, got.Events, 1)
	assert.Equal(t, "clipboard", got.Events[0].Kind)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Events[0].Data))
	require.Len(t, got.Keystrokes, 1)
	assert.Equal(t, "keystroke", got.Keystrokes[0].Kind)
}

// TestSnapshotOverwrite verifies the one-row-per-agent upsert: a second
// save replaces the first wholesale.
func TestSnapshotOverwrite(t *testing.T, ctx context.Context, store *snapshot.PostgresStore) {
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	first := session.Snapshot{
		AgentID:        "overwrite-agent",
		DisplayName:    "Overwrite",
		FirstSeen:      base,
		LastSeen:       base,
		TotalCallbacks: 1,
		Status:         map[string]any{"monitoring_enabled": true, "events_captured": float64(10)},
	}
	require.NoError(t, store.Save(ctx, first))

	second := first
	second.LastSeen = base.Add(time.Hour)
	second.TotalCallbacks = 2
	second.Status = map[string]any{"monitoring_enabled": false}
	second.Events = []telemetry.Event{{Timestamp: base, Kind: "window_focus"}}
	require.NoError(t, store.Save(ctx, second))

	got := findSnapshot(t, ctx, store, "overwrite-agent")
	assert.Equal(t, int64(2), got.TotalCallbacks)
	assert.Equal(t, base.Add(time.Hour), got.LastSeen.UTC())
	assert.Equal(t, false, got.Status["monitoring_enabled"])
	assert.NotContains(t, got.Status, "events_captured")
	require.Len(t, got.Events, 1)

	// Still exactly one row for the agent.
	count := 0
	all, err := store.List(ctx)
	require.NoError(t, err)
	for _, snap := range all {
		if snap.AgentID == "overwrite-agent" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestRestartRestoresSessions plays the controller boot path: persisted
// snapshots are loaded into a fresh in-memory store in first-seen order.
func TestRestartRestoresSessions(t *testing.T, ctx context.Context, store *snapshot.PostgresStore) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, session.Snapshot{
		AgentID:        "restore-late",
		DisplayName:    "Late",
		FirstSeen:      base.Add(time.Hour),
		LastSeen:       base.Add(2 * time.Hour),
		TotalCallbacks: 9,
		Events:         []telemetry.Event{{Timestamp: base, Kind: "persisted"}},
	}))
	require.NoError(t, store.Save(ctx, session.Snapshot{
		AgentID:   "restore-early",
		FirstSeen: base,
		LastSeen:  base,
	}))

	persisted, err := store.List(ctx)
	require.NoError(t, err)

	sessions := session.NewStore()
	sessions.Restore(persisted)

	snap, err := sessions.Get("restore-late")
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.TotalCallbacks)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "persisted", snap.Events[0].Kind)

	list := sessions.List()
	earlyIdx, lateIdx := -1, -1
	for i, s := range list {
		switch s.AgentID {
		case "restore-early":
			earlyIdx = i
		case "restore-late":
			lateIdx = i
		}
	}
	require.NotEqual(t, -1, earlyIdx)
	require.NotEqual(t, -1, lateIdx)
	assert.Less(t, earlyIdx, lateIdx, "restore keeps first-seen order")
}

func findSnapshot(t *testing.T, ctx context.Context, store *snapshot.PostgresStore, agentID string) session.Snapshot {
	t.Helper()
	all, err := store.List(ctx)
	require.NoError(t, err)
	for _, snap := range all {
		if snap.AgentID == agentID {
			return snap
		}
	}
	t.Fatalf("snapshot for %s not found", agentID)
	return session.Snapshot{}
}
