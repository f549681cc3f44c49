// Package think defines the transient input and output of one agent
// reasoning step. Neither type is ever persisted: the context is rebuilt
// fresh for every cycle and the result is consumed immediately by the
// result processor.
package think

import (
	"encoding/json"
	"time"

	"github.com/planforge/planforge/internal/domain/decision"
	"github.com/planforge/planforge/internal/domain/message"
)

// Trigger names why a think cycle was started.
type Trigger string

const (
	TriggerScheduled       Trigger = "scheduled"
	TriggerMessageReceived Trigger = "message_received"
	TriggerPlanning        Trigger = "planning"
	TriggerManual          Trigger = "manual"
)

// ProjectSnapshot is the read-only view of project state a behavior sees.
type ProjectSnapshot struct {
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	AgentCount   int       `json:"agent_count"`
	MessageCount int       `json:"message_count"`
	TakenAt      time.Time `json:"taken_at"`
}

// Peer is a roster entry visible to a behavior: another agent of the
// same project it may address messages to.
type Peer struct {
	AgentID string `json:"agent_id"`
	Type    string `json:"agent_type"`
}

// Context is the full input to one Behavior.Think call: project snapshot
// plus recent inbound messages and decisions for the agent.
type Context struct {
	AgentID   string                 `json:"agent_id"`
	ProjectID string                 `json:"project_id"`
	Trigger   Trigger                `json:"trigger"`
	Snapshot  ProjectSnapshot        `json:"snapshot"`
	Peers     []Peer                 `json:"peers"`
	Inbox     []message.AgentMessage `json:"inbox"`
	Decisions []decision.Decision    `json:"decisions"`
}

// Action is the only part of a think result with observable side effects.
// A non-empty ToAgentID (or a broadcast with Payload) yields a message;
// a non-empty DecisionKind yields a pending decision.
type Action struct {
	// ToAgentID is the message recipient; nil means broadcast (no wake-up).
	ToAgentID *string `json:"to_agent_id,omitempty"`
	// Broadcast marks the action as producing a broadcast message even
	// though ToAgentID is nil.
	Broadcast bool `json:"broadcast,omitempty"`
	// DecisionKind, when set, records a decision of that kind.
	DecisionKind string          `json:"decision_kind,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Result is a behavior's structured output.
type Result struct {
	Reasoning string   `json:"reasoning"`
	Actions   []Action `json:"actions"`
}
