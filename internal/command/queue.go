// Package command implements the per-agent FIFO of pending instructions.
// Delivery is at-most-once: a dequeued command is considered delivered
// whether or not the agent applies it.
package command

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command is an opaque instruction awaiting delivery. The payload schema
// is an agreement between operator and agent; the queue never inspects it.
type Command struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue holds pending commands per agent id. There is no cross-agent
// ordering guarantee; within one agent the order is FIFO.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Command
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[string][]Command)}
}

// Enqueue appends a command for an agent and returns it with its assigned
// id and enqueue timestamp. The queue does not validate the agent id;
// callers gate on session existence.
func (q *Queue) Enqueue(agentID string, payload json.RawMessage) Command {
	cmd := Command{
		ID:         uuid.New().String(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.pending[agentID] = append(q.pending[agentID], cmd)
	q.mu.Unlock()

	return cmd
}

// DequeueOne pops the oldest pending command for an agent. Ownership
// transfers to the caller; the queue entry is gone regardless of what
// happens to the response carrying it.
func (q *Queue) DequeueOne(agentID string) (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.pending[agentID]
	if len(queue) == 0 {
		return Command{}, false
	}
	cmd := queue[0]
	if len(queue) == 1 {
		delete(q.pending, agentID)
	} else {
		q.pending[agentID] = queue[1:]
	}
	return cmd, true
}

// Len reports the number of commands pending for an agent.
func (q *Queue) Len(agentID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[agentID])
}
