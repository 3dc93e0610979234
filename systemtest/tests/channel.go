package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/snapshot"
	"github.com/outfleet/beacon/internal/telemetry"
)

// TestChannelPersistsSessions exercises the full agent path against a
// router wired to the real database: register, heartbeat, callback, then
// assert the session state landed in session_snapshots.
func TestChannelPersistsSessions(t *testing.T, ctx context.Context, router *gin.Engine, secret string, store *snapshot.PostgresStore) {
	now := time.Now().UTC().Truncate(time.Second)

	rr := doJSON(router, "POST", "/register", secret, dto.RegisterRequest{
		AgentID:      "channel-agent",
		DisplayName:  "Channel Agent",
		Address:      "192.168.1.20:0",
		Capabilities: []string{"telemetry"},
		Timestamp:    now,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(router, "POST", "/heartbeat", secret, dto.HeartbeatRequest{
		AgentID:   "channel-agent",
		Timestamp: now.Add(time.Second),
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(router, "POST", "/callback", secret, dto.CallbackRequest{
		AgentID:     "channel-agent",
		DisplayName: "Channel Agent",
		Timestamp:   now.Add(2 * time.Second),
		Status:      map[string]any{"monitoring_enabled": true},
		Events: []telemetry.Event{
			{Timestamp: now, Kind: "app_switch", Data: json.RawMessage(`{"app":"terminal"}`)},
			{Timestamp: now, Kind: "clipboard"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.CallbackResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp.Status)
	assert.Nil(t, resp.Command)

	snap := findSnapshot(t, ctx, store, "channel-agent")
	assert.Equal(t, "Channel Agent", snap.DisplayName)
	assert.Equal(t, "192.168.1.20:0", snap.Address)
	assert.Equal(t, int64(1), snap.TotalCallbacks)
	assert.Equal(t, true, snap.Status["monitoring_enabled"])
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "app_switch", snap.Events[0].Kind)

	t.Run("rejects wrong secret", func(t *testing.T) {
		rr := doJSON(router, "POST", "/callback", "wrong-secret", dto.CallbackRequest{
			AgentID:   "channel-agent",
			Timestamp: now,
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func doJSON(router *gin.Engine, method, path, secret string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(dto.SecretHeader, secret)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
