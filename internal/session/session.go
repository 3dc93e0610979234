package session

import (
	"time"

	"github.com/outfleet/beacon/internal/telemetry"
)

// BufferCapacity bounds the per-session event and keystroke buffers.
// Appends beyond the capacity evict the oldest entries.
const BufferCapacity = 1000

// Session is the controller's accumulated per-agent state. It is owned by
// the Store and only reachable from outside as a Snapshot copy.
type Session struct {
	agentID      string
	displayName  string
	address      string
	capabilities []string

	firstSeen      time.Time
	lastSeen       time.Time
	totalCallbacks int64

	status     map[string]any
	events     *ring
	keystrokes *ring
}

func newSession(agentID, displayName string, ts time.Time) *Session {
	return &Session{
		agentID:     agentID,
		displayName: displayName,
		firstSeen:   ts,
		lastSeen:    ts,
		events:      newRing(BufferCapacity),
		keystrokes:  newRing(BufferCapacity),
	}
}

// Snapshot is a detached copy of a session, used for query responses and
// as the durable record written after each accepted callback.
type Snapshot struct {
	AgentID        string            `json:"agent_id"`
	DisplayName    string            `json:"display_name"`
	Address        string            `json:"address,omitempty"`
	Capabilities   []string          `json:"capabilities,omitempty"`
	FirstSeen      time.Time         `json:"first_seen"`
	LastSeen       time.Time         `json:"last_seen"`
	TotalCallbacks int64             `json:"total_callbacks"`
	Status         map[string]any    `json:"status,omitempty"`
	Events         []telemetry.Event `json:"events,omitempty"`
	Keystrokes     []telemetry.Event `json:"keystrokes,omitempty"`
}

func (s *Session) snapshot() Snapshot {
	status := make(map[string]any, len(s.status))
	for k, v := range s.status {
		status[k] = v
	}
	return Snapshot{
		AgentID:        s.agentID,
		DisplayName:    s.displayName,
		Address:        s.address,
		Capabilities:   append([]string(nil), s.capabilities...),
		FirstSeen:      s.firstSeen,
		LastSeen:       s.lastSeen,
		TotalCallbacks: s.totalCallbacks,
		Status:         status,
		Events:         s.events.all(),
		Keystrokes:     s.keystrokes.all(),
	}
}
