// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/decision"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/project"
)

// Store is the port interface for all persistent state the engine touches:
// the agent roster, the message/decision stores, and dispatcher step
// checkpoints.
type Store interface {
	// Projects
	GetProject(ctx context.Context, id string) (*project.Project, error)

	// Agents
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgentsByProject(ctx context.Context, projectID string) ([]agent.Agent, error)

	// ListDueAgents returns up to limit ACTIVE agents whose last_run_at is
	// NULL or before cutoff. Ordering beyond the store's default is not
	// guaranteed.
	ListDueAgents(ctx context.Context, cutoff time.Time, limit int) ([]agent.Agent, error)

	// ClaimAgentRun sets last_run_at to ranAt only if the stored value
	// still equals observed (nil meaning never ran). Returns
	// domain.ErrConflict when another sweep claimed the agent first.
	ClaimAgentRun(ctx context.Context, id string, observed *time.Time, ranAt time.Time) error

	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error

	// Messages
	CreateMessage(ctx context.Context, m *message.AgentMessage) (*message.AgentMessage, error)

	// ListMessagesForAgent returns unexpired direct and broadcast messages
	// visible to the agent, newest first, up to limit.
	ListMessagesForAgent(ctx context.Context, projectID, agentID string, limit int) ([]message.AgentMessage, error)
	CountMessagesByProject(ctx context.Context, projectID string) (int, error)

	// DeleteExpiredMessages removes messages for one project created
	// before cutoff and returns how many were deleted.
	DeleteExpiredMessages(ctx context.Context, projectID string, cutoff time.Time) (int64, error)

	// DeleteAllExpiredMessages removes expired messages across every
	// project (used by the global cleanup sweep).
	DeleteAllExpiredMessages(ctx context.Context, cutoff time.Time) (int64, error)

	// Decisions
	CreateDecision(ctx context.Context, d *decision.Decision) (*decision.Decision, error)
	ListRecentDecisions(ctx context.Context, projectID string, limit int) ([]decision.Decision, error)

	// Dispatcher checkpoints
	GetCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error)
	PutCheckpoint(ctx context.Context, runID, step string, result []byte) error
	DeleteRunCheckpoints(ctx context.Context, runID string) error
}
