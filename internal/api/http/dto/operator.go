package dto

import (
	"time"

	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/telemetry"
)

// AgentSummary is one row of the aggregate status view.
type AgentSummary struct {
	DisplayName    string         `json:"display_name"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	TotalCallbacks int64          `json:"total_callbacks"`
	EventCount     int            `json:"event_count"`
	KeystrokeCount int            `json:"keystroke_count"`
	Status         map[string]any `json:"status,omitempty"`
}

type StatusResponse struct {
	Agents map[string]AgentSummary `json:"agents"`
	Count  int                     `json:"count"`
}

// EventsResponse carries the tail of one buffer, oldest entry first.
type EventsResponse struct {
	AgentID string            `json:"agent_id"`
	Events  []telemetry.Event `json:"events"`
	Count   int               `json:"count"`
}

type EnqueueCommandResponse struct {
	Status  string          `json:"status"`
	Command command.Command `json:"command"`
}
