package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outfleet/beacon/internal/api/http/dto"
	"github.com/outfleet/beacon/internal/command"
)

const (
	callbackTimeout  = 5 * time.Second
	heartbeatTimeout = 3 * time.Second
)

// client issues the agent's outbound HTTP requests. Heartbeats get a
// tighter timeout than callbacks since they carry no payload.
type client struct {
	baseURL string
	secret  string

	callbackClient  *http.Client
	heartbeatClient *http.Client
}

func newClient(baseURL, secret string) *client {
	return &client{
		baseURL:         baseURL,
		secret:          secret,
		callbackClient:  &http.Client{Timeout: callbackTimeout},
		heartbeatClient: &http.Client{Timeout: heartbeatTimeout},
	}
}

func (c *client) register(req dto.RegisterRequest) error {
	return c.post(c.callbackClient, "/register", req, nil)
}

func (c *client) heartbeat(req dto.HeartbeatRequest) error {
	return c.post(c.heartbeatClient, "/heartbeat", req, nil)
}

func (c *client) callback(req dto.CallbackRequest) (*command.Command, error) {
	var resp dto.CallbackResponse
	if err := c.post(c.callbackClient, "/callback", req, &resp); err != nil {
		return nil, err
	}
	return resp.Command, nil
}

func (c *client) post(hc *http.Client, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(dto.SecretHeader, c.secret)

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
