package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/decision"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/project"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = $1`, id)

	var p project.Project
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// --- Agents ---

const agentColumns = `id, project_id, owner_id, agent_type, status, last_run_at, created_at, updated_at`

func scanAgent(row pgx.Row) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.ProjectID, &a.OwnerID, &a.Type, &a.Status,
		&a.LastRunAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListAgentsByProject(ctx context.Context, projectID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) ListDueAgents(ctx context.Context, cutoff time.Time, limit int) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents
		 WHERE status = $1 AND (last_run_at IS NULL OR last_run_at < $2)
		 ORDER BY last_run_at NULLS FIRST
		 LIMIT $3`, agent.StatusActive, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list due agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ClaimAgentRun advances last_run_at only if the stored value still equals
// observed. IS NOT DISTINCT FROM makes the comparison NULL-safe, so a
// never-ran agent is claimed with observed = nil.
func (s *Store) ClaimAgentRun(ctx context.Context, id string, observed *time.Time, ranAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_run_at = $3, updated_at = now()
		 WHERE id = $1 AND last_run_at IS NOT DISTINCT FROM $2`,
		id, observed, ranAt)
	if err != nil {
		return fmt.Errorf("claim agent run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim agent run %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update agent status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, m *message.AgentMessage) (*message.AgentMessage, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_messages (id, project_id, from_agent_id, to_agent_id, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, project_id, from_agent_id, to_agent_id, payload, created_at, expires_at`,
		m.ID, m.ProjectID, m.FromAgentID, m.ToAgentID, m.Payload, m.CreatedAt, m.ExpiresAt)

	var created message.AgentMessage
	err := row.Scan(&created.ID, &created.ProjectID, &created.FromAgentID,
		&created.ToAgentID, &created.Payload, &created.CreatedAt, &created.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &created, nil
}

func (s *Store) ListMessagesForAgent(ctx context.Context, projectID, agentID string, limit int) ([]message.AgentMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, from_agent_id, to_agent_id, payload, created_at, expires_at
		 FROM agent_messages
		 WHERE project_id = $1 AND (to_agent_id = $2 OR to_agent_id IS NULL) AND expires_at > now()
		 ORDER BY created_at DESC
		 LIMIT $3`, projectID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	var msgs []message.AgentMessage
	for rows.Next() {
		var m message.AgentMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.FromAgentID, &m.ToAgentID,
			&m.Payload, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) CountMessagesByProject(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM agent_messages WHERE project_id = $1 AND expires_at > now()`,
		projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteExpiredMessages(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_messages WHERE project_id = $1 AND created_at < $2`,
		projectID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteAllExpiredMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete all expired messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Decisions ---

func (s *Store) CreateDecision(ctx context.Context, d *decision.Decision) (*decision.Decision, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO decisions (id, agent_id, project_id, kind, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, agent_id, project_id, kind, status, payload, created_at`,
		d.ID, d.AgentID, d.ProjectID, d.Kind, d.Status, d.Payload, d.CreatedAt)

	var created decision.Decision
	err := row.Scan(&created.ID, &created.AgentID, &created.ProjectID,
		&created.Kind, &created.Status, &created.Payload, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create decision: %w", err)
	}
	return &created, nil
}

func (s *Store) ListRecentDecisions(ctx context.Context, projectID string, limit int) ([]decision.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, project_id, kind, status, payload, created_at
		 FROM decisions WHERE project_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []decision.Decision
	for rows.Next() {
		var d decision.Decision
		if err := rows.Scan(&d.ID, &d.AgentID, &d.ProjectID, &d.Kind,
			&d.Status, &d.Payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// --- Dispatcher checkpoints ---

func (s *Store) GetCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error) {
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM run_checkpoints WHERE run_id = $1 AND step = $2`,
		runID, step).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get checkpoint %s/%s: %w", runID, step, err)
	}
	return result, true, nil
}

func (s *Store) PutCheckpoint(ctx context.Context, runID, step string, result []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_checkpoints (run_id, step, result)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, step) DO UPDATE SET result = EXCLUDED.result`,
		runID, step, result)
	if err != nil {
		return fmt.Errorf("put checkpoint %s/%s: %w", runID, step, err)
	}
	return nil
}

func (s *Store) DeleteRunCheckpoints(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM run_checkpoints WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete checkpoints for run %s: %w", runID, err)
	}
	return nil
}
