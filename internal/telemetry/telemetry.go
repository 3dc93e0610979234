// Package telemetry defines the opaque telemetry units carried over the
// control channel. The channel never inspects event payloads; producers
// and operators agree on their meaning out of band.
package telemetry

import (
	"encoding/json"
	"time"
)

// Event is a single captured telemetry record. Data is opaque to the
// channel and may be ciphered by the agent before transmission.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Batch is the unit a collector hands to the connection manager for one
// callback cycle. Status carries last-reported scalar fields and is
// overwritten wholesale on the controller.
type Batch struct {
	Status     map[string]any `json:"status,omitempty"`
	Events     []Event        `json:"events,omitempty"`
	Keystrokes []Event        `json:"keystrokes,omitempty"`
}
