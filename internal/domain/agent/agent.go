// Package agent defines the Agent domain entity.
package agent

import "time"

// Type identifies the planning role an agent performs in its project.
type Type string

const (
	TypeOptimizer Type = "OPTIMIZER"
	TypeManager   Type = "MANAGER"
	TypeDeveloper Type = "DEVELOPER"
)

// Valid reports whether t is one of the known agent types.
// The set of types is closed: adding a role means adding a constant
// and a behavior strategy, not registering anything at runtime.
func (t Type) Valid() bool {
	switch t {
	case TypeOptimizer, TypeManager, TypeDeveloper:
		return true
	}
	return false
}

// Status represents the lifecycle state of an agent.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusArchived Status = "ARCHIVED"
)

// Agent represents a per-project autonomous planning participant.
// Agents are never deleted by the engine; archival is a status transition.
type Agent struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	OwnerID   string     `json:"owner_id"`
	Type      Type       `json:"agent_type"`
	Status    Status     `json:"status"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Runnable reports whether the agent is eligible for scheduled or
// fanned-out execution. Only ACTIVE agents ever run.
func (a *Agent) Runnable() bool {
	return a.Status == StatusActive
}

// Due reports whether the agent should be picked up by a heartbeat sweep:
// it has never run, or its last run is older than staleAfter.
func (a *Agent) Due(now time.Time, staleAfter time.Duration) bool {
	if !a.Runnable() {
		return false
	}
	return a.LastRunAt == nil || a.LastRunAt.Before(now.Add(-staleAfter))
}
