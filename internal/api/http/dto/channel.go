package dto

import (
	"time"

	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/telemetry"
)

// SecretHeader carries the pre-shared channel secret on every
// agent-originated request.
const SecretHeader = "X-Auth-Token"

// RegisterRequest announces an agent to the controller.
type RegisterRequest struct {
	AgentID      string    `json:"agent_id" binding:"required"`
	DisplayName  string    `json:"display_name"`
	Address      string    `json:"address"`
	Capabilities []string  `json:"capabilities"`
	Timestamp    time.Time `json:"timestamp"`
}

type RegisterResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
}

// HeartbeatRequest is the lightweight liveness-only check-in.
type HeartbeatRequest struct {
	AgentID     string    `json:"agent_id" binding:"required"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type HeartbeatResponse struct {
	Status string `json:"status"`
}

// CallbackRequest delivers one telemetry batch. Events and keystrokes are
// appended to the session's bounded buffers; Status overwrites the
// session's last-reported fields wholesale.
type CallbackRequest struct {
	AgentID     string            `json:"agent_id" binding:"required"`
	DisplayName string            `json:"display_name"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      map[string]any    `json:"status"`
	Events      []telemetry.Event `json:"events"`
	Keystrokes  []telemetry.Event `json:"keystrokes"`
}

// CallbackResponse acknowledges a callback and opportunistically carries
// at most one pending command. Command is null when none are queued.
type CallbackResponse struct {
	Status  string           `json:"status"`
	Command *command.Command `json:"command"`
}
