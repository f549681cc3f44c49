package service

import (
	"context"
	"fmt"
	"time"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/port/database"
)

// ContextService assembles think contexts from the store. It implements
// contextbuilder.Builder. Every context is built fresh; nothing is cached
// across cycles.
type ContextService struct {
	store         database.Store
	inboxLimit    int
	decisionLimit int
	now           func() time.Time
}

// NewContextService creates a store-backed context builder.
func NewContextService(store database.Store, inboxLimit, decisionLimit int) *ContextService {
	if inboxLimit < 1 {
		inboxLimit = 50
	}
	if decisionLimit < 1 {
		decisionLimit = 20
	}
	return &ContextService{
		store:         store,
		inboxLimit:    inboxLimit,
		decisionLimit: decisionLimit,
		now:           time.Now,
	}
}

// BuildAgentContext returns the read-only snapshot an agent reasons over:
// project identity, the live roster, recent inbound messages and recent
// decisions. Failures are transient; the enclosing run retries them.
func (s *ContextService) BuildAgentContext(ctx context.Context, ag *agent.Agent, trigger think.Trigger) (*think.Context, error) {
	proj, err := s.store.GetProject(ctx, ag.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", ag.ProjectID, err)
	}

	roster, err := s.store.ListAgentsByProject(ctx, ag.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	msgCount, err := s.store.CountMessagesByProject(ctx, ag.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	inbox, err := s.store.ListMessagesForAgent(ctx, ag.ProjectID, ag.ID, s.inboxLimit)
	if err != nil {
		return nil, fmt.Errorf("load inbox: %w", err)
	}

	decisions, err := s.store.ListRecentDecisions(ctx, ag.ProjectID, s.decisionLimit)
	if err != nil {
		return nil, fmt.Errorf("load decisions: %w", err)
	}

	tc := &think.Context{
		AgentID:   ag.ID,
		ProjectID: ag.ProjectID,
		Trigger:   trigger,
		Snapshot: think.ProjectSnapshot{
			ProjectID:    proj.ID,
			Name:         proj.Name,
			AgentCount:   len(roster),
			MessageCount: msgCount,
			TakenAt:      s.now(),
		},
		Inbox:     inbox,
		Decisions: decisions,
	}
	for _, peer := range roster {
		if peer.ID == ag.ID || !peer.Runnable() {
			continue
		}
		tc.Peers = append(tc.Peers, think.Peer{AgentID: peer.ID, Type: string(peer.Type)})
	}
	return tc, nil
}
