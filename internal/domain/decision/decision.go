// Package decision defines the Decision domain entity: a persisted
// recommendation produced by an agent's reasoning, subject to an external
// accept/reject/modify flow.
package decision

import (
	"encoding/json"
	"time"
)

// Status represents the review state of a decision. The engine only ever
// creates decisions as PENDING; all later transitions happen externally.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusModified Status = "MODIFIED"
)

// Decision is a recommendation artifact attached to an agent and project.
type Decision struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	ProjectID string          `json:"project_id"`
	Kind      string          `json:"kind"`
	Status    Status          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
