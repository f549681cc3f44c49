package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/decision"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/port/database"
)

// ResultProcessor turns a ThinkResult into persisted messages and pending
// decisions. It is the only writer of both stores and owns message expiry
// cleanup.
type ResultProcessor struct {
	store database.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewResultProcessor creates a processor with the given message TTL.
func NewResultProcessor(store database.Store, ttl time.Duration) *ResultProcessor {
	if ttl <= 0 {
		ttl = message.DefaultTTL
	}
	return &ResultProcessor{store: store, ttl: ttl, now: time.Now}
}

// ProcessOutcome reports what one result produced.
type ProcessOutcome struct {
	MessageIDs  []string `json:"message_ids"`
	DecisionIDs []string `json:"decision_ids"`
	// Recipients lists direct message recipients, deduplicated in
	// first-seen order. Fan-out dispatches one wake-up per entry.
	Recipients []string `json:"recipients"`
}

// Process persists the messages and decisions described by the result's
// actions on behalf of ag. Direct messages must address an agent of the
// same project; actions violating that are dropped with a warning rather
// than failing the cycle.
func (p *ResultProcessor) Process(ctx context.Context, ag *agent.Agent, res *think.Result) (*ProcessOutcome, error) {
	out := &ProcessOutcome{}
	seen := make(map[string]bool)
	now := p.now()

	for _, action := range res.Actions {
		if action.ToAgentID != nil || action.Broadcast {
			to := action.ToAgentID
			if to != nil {
				ok, err := p.sameProject(ctx, ag.ProjectID, *to)
				if err != nil {
					return nil, err
				}
				if !ok {
					slog.Warn("dropping message to agent outside project",
						"from", ag.ID, "to", *to, "project_id", ag.ProjectID)
					continue
				}
			}
			m := &message.AgentMessage{
				ID:          uuid.NewString(),
				ProjectID:   ag.ProjectID,
				FromAgentID: ag.ID,
				ToAgentID:   to,
				Payload:     action.Payload,
				CreatedAt:   now,
				ExpiresAt:   now.Add(p.ttl),
			}
			created, err := p.store.CreateMessage(ctx, m)
			if err != nil {
				return nil, fmt.Errorf("create message: %w", err)
			}
			out.MessageIDs = append(out.MessageIDs, created.ID)
			if to != nil && !seen[*to] {
				seen[*to] = true
				out.Recipients = append(out.Recipients, *to)
			}
		}

		if action.DecisionKind != "" {
			d := &decision.Decision{
				ID:        uuid.NewString(),
				AgentID:   ag.ID,
				ProjectID: ag.ProjectID,
				Kind:      action.DecisionKind,
				Status:    decision.StatusPending,
				Payload:   action.Payload,
				CreatedAt: now,
			}
			created, err := p.store.CreateDecision(ctx, d)
			if err != nil {
				return nil, fmt.Errorf("create decision: %w", err)
			}
			out.DecisionIDs = append(out.DecisionIDs, created.ID)
		}
	}
	return out, nil
}

// sameProject reports whether agentID exists and belongs to projectID.
func (p *ResultProcessor) sameProject(ctx context.Context, projectID, agentID string) (bool, error) {
	to, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolve recipient %s: %w", agentID, err)
	}
	return to.ProjectID == projectID, nil
}

// CleanupProject removes messages for one project older than the TTL.
func (p *ResultProcessor) CleanupProject(ctx context.Context, projectID string) (int64, error) {
	cutoff := p.now().Add(-p.ttl)
	deleted, err := p.store.DeleteExpiredMessages(ctx, projectID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup project %s: %w", projectID, err)
	}
	if deleted > 0 {
		slog.Info("expired messages removed", "project_id", projectID, "count", deleted)
	}
	return deleted, nil
}

// CleanupAll removes expired messages across every project.
func (p *ResultProcessor) CleanupAll(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.ttl)
	deleted, err := p.store.DeleteAllExpiredMessages(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup all: %w", err)
	}
	return deleted, nil
}
