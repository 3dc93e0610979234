package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/telemetry"
)

// PostgresStore keeps one row per agent in session_snapshots.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const saveQuery = `
INSERT INTO session_snapshots
    (agent_id, display_name, address, capabilities, first_seen, last_seen,
     total_callbacks, status, events, keystrokes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (agent_id) DO UPDATE SET
    display_name    = EXCLUDED.display_name,
    address         = EXCLUDED.address,
    capabilities    = EXCLUDED.capabilities,
    last_seen       = EXCLUDED.last_seen,
    total_callbacks = EXCLUDED.total_callbacks,
    status          = EXCLUDED.status,
    events          = EXCLUDED.events,
    keystrokes      = EXCLUDED.keystrokes,
    updated_at      = now()`

func (s *PostgresStore) Save(ctx context.Context, snap session.Snapshot) error {
	capabilities, err := marshalOr(snap.Capabilities, "[]")
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	status, err := marshalOr(snap.Status, "{}")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	events, err := marshalOr(snap.Events, "[]")
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	keystrokes, err := marshalOr(snap.Keystrokes, "[]")
	if err != nil {
		return fmt.Errorf("marshal keystrokes: %w", err)
	}

	if _, err := s.pool.Exec(ctx, saveQuery,
		snap.AgentID, snap.DisplayName, snap.Address, capabilities,
		snap.FirstSeen, snap.LastSeen, snap.TotalCallbacks,
		status, events, keystrokes); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

const listQuery = `
SELECT agent_id, display_name, address, capabilities, first_seen,
       last_seen, total_callbacks, status, events, keystrokes
FROM session_snapshots
ORDER BY first_seen`

func (s *PostgresStore) List(ctx context.Context) ([]session.Snapshot, error) {
	rows, err := s.pool.Query(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var result []session.Snapshot
	for rows.Next() {
		var (
			snap         session.Snapshot
			capabilities []byte
			status       []byte
			events       []byte
			keystrokes   []byte
		)
		if err := rows.Scan(&snap.AgentID, &snap.DisplayName, &snap.Address,
			&capabilities, &snap.FirstSeen, &snap.LastSeen,
			&snap.TotalCallbacks, &status, &events, &keystrokes); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		if err := json.Unmarshal(capabilities, &snap.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		if err := json.Unmarshal(status, &snap.Status); err != nil {
			return nil, fmt.Errorf("unmarshal status: %w", err)
		}
		if err := unmarshalEvents(events, &snap.Events); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		if err := unmarshalEvents(keystrokes, &snap.Keystrokes); err != nil {
			return nil, fmt.Errorf("unmarshal keystrokes: %w", err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return result, nil
}

func marshalOr(v any, empty string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte(empty), nil
	}
	return data, nil
}

func unmarshalEvents(data []byte, dst *[]telemetry.Event) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
