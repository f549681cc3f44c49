// Package message defines the AgentMessage domain entity: the persisted,
// addressed, expiring communication channel between agents of one project.
package message

import (
	"encoding/json"
	"time"
)

// DefaultTTL is how long a message stays visible before cleanup removes it.
const DefaultTTL = 48 * time.Hour

// AgentMessage is a single message from one agent to another (or to the
// whole project when ToAgentID is nil). Messages are created only by the
// result processor and consumed read-only by context building.
type AgentMessage struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	FromAgentID string          `json:"from_agent_id"`
	// ToAgentID is nil for broadcast messages; those never trigger a
	// direct wake-up.
	ToAgentID *string         `json:"to_agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the message is past its expiry at the given time.
func (m *AgentMessage) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Direct reports whether the message is addressed to a single agent.
func (m *AgentMessage) Direct() bool {
	return m.ToAgentID != nil && *m.ToAgentID != ""
}
