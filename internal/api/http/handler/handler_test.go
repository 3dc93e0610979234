package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalhttp "github.com/outfleet/beacon/internal/api/http"
	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/auth"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/session"
	"github.com/outfleet/beacon/internal/telemetry"
)

const testSecret = "test-shared-secret"

type stubSnapshots struct {
	mu    sync.Mutex
	saves []session.Snapshot
	err   error
}

func (s *stubSnapshots) Save(_ context.Context, snap session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves = append(s.saves, snap)
	return nil
}

func (s *stubSnapshots) List(_ context.Context) ([]session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Snapshot(nil), s.saves...), nil
}

func (s *stubSnapshots) saved() []session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Snapshot(nil), s.saves...)
}

type fixture struct {
	engine    *gin.Engine
	sessions  *session.Store
	commands  *command.Queue
	snapshots *stubSnapshots
}

func newFixture(t *testing.T, cfg internalhttp.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		sessions:  session.NewStore(),
		commands:  command.NewQueue(),
		snapshots: &stubSnapshots{},
	}

	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Sessions:  f.sessions,
		Commands:  f.commands,
		Snapshots: f.snapshots,
		Config:    cfg,
	})
	f.engine = engine
	return f
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, internalhttp.Config{SharedSecret: testSecret})
}

func (f *fixture) do(t *testing.T, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func secretHeader() map[string]string {
	return map[string]string{dto.SecretHeader: testSecret}
}

func callbackBody(agentID string, events, keystrokes int) dto.CallbackRequest {
	evs := make([]telemetry.Event, events)
	for i := range evs {
		evs[i] = telemetry.Event{Timestamp: time.Now().UTC(), Kind: fmt.Sprintf("event-%d", i)}
	}
	keys := make([]telemetry.Event, keystrokes)
	for i := range keys {
		keys[i] = telemetry.Event{Timestamp: time.Now().UTC(), Kind: "keystroke"}
	}
	return dto.CallbackRequest{
		AgentID:     agentID,
		DisplayName: "Agent " + agentID,
		Timestamp:   time.Now().UTC(),
		Status:      map[string]any{"monitoring_enabled": true},
		Events:      evs,
		Keystrokes:  keys,
	}
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackRejectsBadSecret(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodPost, "/callback", nil, callbackBody("abc", 2, 0))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/callback",
		map[string]string{dto.SecretHeader: "wrong"}, callbackBody("abc", 2, 0))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// No state change of any kind.
	assert.Empty(t, f.sessions.List())
	assert.Empty(t, f.snapshots.saved())
	assert.Zero(t, f.commands.Len("abc"))
}

func TestRegisterAndHeartbeatRejectBadSecret(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodPost, "/register", nil, dto.RegisterRequest{AgentID: "abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/heartbeat", nil, dto.HeartbeatRequest{AgentID: "abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, f.sessions.List())
}

func TestCallbackMalformedBody(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodPost, "/callback", secretHeader(), "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// agent_id is required.
	rec = f.do(t, http.MethodPost, "/callback", secretHeader(), map[string]any{"display_name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.sessions.List())
}

func TestCallbackScenario(t *testing.T) {
	f := defaultFixture(t)

	// Fresh controller: enqueueing for an unseen agent is a 404 and must
	// not create a session.
	rec := f.do(t, http.MethodPost, "/command/abc", nil, map[string]any{"action": "ping"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.sessions.List())

	for _, events := range []int{0, 5, 3} {
		rec = f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", events, 0))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeJSON[dto.CallbackResponse](t, rec)
		assert.Equal(t, "received", resp.Status)
		assert.Nil(t, resp.Command)
	}

	rec = f.do(t, http.MethodGet, "/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[dto.StatusResponse](t, rec)
	require.Contains(t, status.Agents, "abc")
	assert.Equal(t, int64(3), status.Agents["abc"].TotalCallbacks)
	assert.Equal(t, 1, status.Count)

	rec = f.do(t, http.MethodGet, "/events/abc?limit=100", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeJSON[dto.EventsResponse](t, rec)
	assert.Equal(t, 8, events.Count)
}

func TestCommandDeliveredExactlyOnce(t *testing.T) {
	f := defaultFixture(t)

	// Make both agents known.
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("xyz", 0, 0))

	rec := f.do(t, http.MethodPost, "/command/abc", nil, map[string]any{"action": "ping"})
	require.Equal(t, http.StatusOK, rec.Code)
	queued := decodeJSON[dto.EnqueueCommandResponse](t, rec)
	assert.Equal(t, "queued", queued.Status)
	require.NotEmpty(t, queued.Command.ID)

	// A different agent's callback never sees abc's command.
	rec = f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("xyz", 0, 0))
	resp := decodeJSON[dto.CallbackResponse](t, rec)
	assert.Nil(t, resp.Command)

	// abc's next callback carries it.
	rec = f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))
	resp = decodeJSON[dto.CallbackResponse](t, rec)
	require.NotNil(t, resp.Command)
	assert.Equal(t, queued.Command.ID, resp.Command.ID)
	assert.JSONEq(t, `{"action":"ping"}`, string(resp.Command.Payload))

	// And only once.
	rec = f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))
	resp = decodeJSON[dto.CallbackResponse](t, rec)
	assert.Nil(t, resp.Command)
}

func TestCommandsDeliveredInEnqueueOrder(t *testing.T) {
	f := defaultFixture(t)
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))

	var ids []string
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/command/abc", nil, map[string]any{"n": i})
		require.Equal(t, http.StatusOK, rec.Code)
		ids = append(ids, decodeJSON[dto.EnqueueCommandResponse](t, rec).Command.ID)
	}

	for _, want := range ids {
		rec := f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))
		resp := decodeJSON[dto.CallbackResponse](t, rec)
		require.NotNil(t, resp.Command)
		assert.Equal(t, want, resp.Command.ID)
	}
}

func TestCommandRejectsInvalidPayload(t *testing.T) {
	f := defaultFixture(t)
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))

	rec := f.do(t, http.MethodPost, "/command/abc", nil, "not json at all")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/command/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBufferQueriesUnknownAgent(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodGet, "/events/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/keystrokes/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsDefaultLimitIsTail(t *testing.T) {
	f := defaultFixture(t)

	// 150 events across two callbacks; default limit returns the most
	// recent 100, oldest of the returned slice first.
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 75, 0))
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 75, 0))

	rec := f.do(t, http.MethodGet, "/events/abc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[dto.EventsResponse](t, rec)
	require.Equal(t, 100, resp.Count)

	// 150 total, tail of 100 starts at index 50 = "event-50" of batch one.
	assert.Equal(t, "event-50", resp.Events[0].Kind)
	assert.Equal(t, "event-74", resp.Events[99].Kind)

	rec = f.do(t, http.MethodGet, "/events/abc?limit=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKeystrokesQuery(t *testing.T) {
	f := defaultFixture(t)
	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 2, 4))

	rec := f.do(t, http.MethodGet, "/keystrokes/abc?limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[dto.EventsResponse](t, rec)
	assert.Equal(t, 3, resp.Count)
}

func TestRegisterMakesAgentKnown(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do(t, http.MethodPost, "/heartbeat", secretHeader(), dto.HeartbeatRequest{AgentID: "abc"})
	assert.Equal(t, http.StatusNotFound, rec.Code, "heartbeat before registration")

	rec = f.do(t, http.MethodPost, "/register", secretHeader(), dto.RegisterRequest{
		AgentID:      "abc",
		DisplayName:  "Agent abc",
		Address:      "10.1.2.3:0",
		Capabilities: []string{"telemetry", "keystrokes"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	reg := decodeJSON[dto.RegisterResponse](t, rec)
	assert.Equal(t, "registered", reg.Status)

	rec = f.do(t, http.MethodPost, "/heartbeat", secretHeader(), dto.HeartbeatRequest{AgentID: "abc"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Registration alone never counts as a callback.
	rec = f.do(t, http.MethodGet, "/status", nil, nil)
	status := decodeJSON[dto.StatusResponse](t, rec)
	require.Contains(t, status.Agents, "abc")
	assert.Equal(t, int64(0), status.Agents["abc"].TotalCallbacks)
}

func TestCallbackPersistsSnapshot(t *testing.T) {
	f := defaultFixture(t)

	f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 2, 1))

	saves := f.snapshots.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "abc", saves[0].AgentID)
	assert.Equal(t, int64(1), saves[0].TotalCallbacks)
	assert.Len(t, saves[0].Events, 2)
	assert.Len(t, saves[0].Keystrokes, 1)
}

func TestCallbackSucceedsWhenPersistenceFails(t *testing.T) {
	f := defaultFixture(t)
	f.snapshots.err = errors.New("disk on fire")

	rec := f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 1, 0))
	assert.Equal(t, http.StatusOK, rec.Code, "persistence is best-effort")

	resp := decodeJSON[dto.CallbackResponse](t, rec)
	assert.Equal(t, "received", resp.Status)

	// The in-memory update still happened.
	snap, err := f.sessions.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalCallbacks)
}

func TestOperatorSurfaceWithLogin(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	f := newFixture(t, internalhttp.Config{
		SharedSecret: testSecret,
		Operator: internalhttp.OperatorConfig{
			Username:     "operator",
			PasswordHash: hash,
			JWTSecret:    "jwt-secret",
		},
	})

	// Guarded without a token.
	rec := f.do(t, http.MethodGet, "/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The agent channel is unaffected by operator auth.
	rec = f.do(t, http.MethodPost, "/callback", secretHeader(), callbackBody("abc", 0, 0))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", nil, dto.LoginRequest{Username: "operator", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/login", nil, dto.LoginRequest{Username: "operator", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeJSON[dto.LoginResponse](t, rec)
	require.NotEmpty(t, login.Token)

	rec = f.do(t, http.MethodGet, "/status",
		map[string]string{"Authorization": "Bearer " + login.Token}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
