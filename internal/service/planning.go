package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/planforge/planforge/internal/behavior"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/port/contextbuilder"
	"github.com/planforge/planforge/internal/port/database"
	"github.com/planforge/planforge/internal/resilience"
)

// roster is the checkpointed set of participants for one planning pass.
// Optimizer and Manager are the first active agent of their type in
// creation order; Developers keeps every active developer.
type roster struct {
	Optimizer  *agent.Agent   `json:"optimizer,omitempty"`
	Manager    *agent.Agent   `json:"manager,omitempty"`
	Developers []*agent.Agent `json:"developers,omitempty"`
}

func (r roster) empty() bool {
	return r.Optimizer == nil && r.Manager == nil && len(r.Developers) == 0
}

// PlanningOutcome reports a full planning pass over one project.
type PlanningOutcome struct {
	Status          string   `json:"status"`
	ExpiredMessages int64    `json:"expired_messages"`
	Participants    []string `json:"participants,omitempty"`
	MessageIDs      []string `json:"message_ids,omitempty"`
	DecisionIDs     []string `json:"decision_ids,omitempty"`
}

// PlanningService runs the ordered planning pass for a project:
// cleanup, then optimizer, manager, and each developer in sequence.
// Each role runs as its own memoized step, so a retry resumes after the
// last role that completed and earlier roles' messages stay visible to
// later ones without being recreated.
type PlanningService struct {
	store    database.Store
	builder  contextbuilder.Builder
	registry *behavior.Registry
	results  *ResultProcessor
	breakers *resilience.BreakerSet
}

// NewPlanningService creates a planning service.
func NewPlanningService(
	store database.Store,
	builder contextbuilder.Builder,
	registry *behavior.Registry,
	results *ResultProcessor,
	breakers *resilience.BreakerSet,
) *PlanningService {
	return &PlanningService{
		store:    store,
		builder:  builder,
		registry: registry,
		results:  results,
		breakers: breakers,
	}
}

// Run executes one planning pass for the project named in ev. An
// unknown project is a permanent failure; a project with no active
// agents completes with a skipped outcome after cleanup.
func (s *PlanningService) Run(ctx context.Context, exec *dispatch.Execution, projectID string) (*PlanningOutcome, error) {
	expired, err := dispatch.Step(ctx, exec, "cleanup", func(ctx context.Context) (int64, error) {
		if _, err := s.store.GetProject(ctx, projectID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return 0, fmt.Errorf("%w: project %s: %v", dispatch.ErrPermanent, projectID, err)
			}
			return 0, err
		}
		return s.results.CleanupProject(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}

	participants, err := dispatch.Step(ctx, exec, "load-roster", func(ctx context.Context) (roster, error) {
		return s.loadRoster(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}

	outcome := &PlanningOutcome{Status: StatusCompleted, ExpiredMessages: expired}
	if participants.empty() {
		outcome.Status = StatusSkipped
		slog.Info("planning skipped, no active agents", "project_id", projectID)
		return outcome, nil
	}

	if participants.Optimizer != nil {
		if err := s.roleStep(ctx, exec, "optimizer", participants.Optimizer, outcome); err != nil {
			return nil, err
		}
	}
	if participants.Manager != nil {
		if err := s.roleStep(ctx, exec, "manager", participants.Manager, outcome); err != nil {
			return nil, err
		}
	}
	for _, dev := range participants.Developers {
		name := "developer:" + dev.ID
		if err := s.roleStep(ctx, exec, name, dev, outcome); err != nil {
			return nil, err
		}
	}

	slog.Info("planning completed",
		"project_id", projectID, "participants", len(outcome.Participants),
		"expired", expired, "messages", len(outcome.MessageIDs), "decisions", len(outcome.DecisionIDs))
	return outcome, nil
}

// roleStep runs one participant's think cycle as a memoized step.
// Planning never fans out: each role's output becomes inbox context for
// the roles that follow it in the same pass.
func (s *PlanningService) roleStep(ctx context.Context, exec *dispatch.Execution, name string, ag *agent.Agent, outcome *PlanningOutcome) error {
	processed, err := dispatch.Step(ctx, exec, name, func(ctx context.Context) (*ProcessOutcome, error) {
		tc, err := s.builder.BuildAgentContext(ctx, ag, think.TriggerPlanning)
		if err != nil {
			return nil, err
		}
		b, err := s.registry.ForType(ag.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dispatch.ErrPermanent, err)
		}
		var result *think.Result
		call := func(ctx context.Context) error {
			var thinkErr error
			result, thinkErr = b.Think(ctx, tc)
			return thinkErr
		}
		if s.breakers != nil {
			err = s.breakers.For(string(ag.Type)).Execute(ctx, call)
		} else {
			err = call(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("behavior %s: %w", ag.Type, err)
		}
		return s.results.Process(ctx, ag, result)
	})
	if err != nil {
		return err
	}
	outcome.Participants = append(outcome.Participants, ag.ID)
	outcome.MessageIDs = append(outcome.MessageIDs, processed.MessageIDs...)
	outcome.DecisionIDs = append(outcome.DecisionIDs, processed.DecisionIDs...)
	return nil
}

// loadRoster picks the planning participants from the project's active
// agents in creation order.
func (s *PlanningService) loadRoster(ctx context.Context, projectID string) (roster, error) {
	agents, err := s.store.ListAgentsByProject(ctx, projectID)
	if err != nil {
		return roster{}, err
	}
	var r roster
	for i := range agents {
		ag := &agents[i]
		if !ag.Runnable() {
			continue
		}
		switch ag.Type {
		case agent.TypeOptimizer:
			if r.Optimizer == nil {
				r.Optimizer = ag
			}
		case agent.TypeManager:
			if r.Manager == nil {
				r.Manager = ag
			}
		case agent.TypeDeveloper:
			r.Developers = append(r.Developers, ag)
		}
	}
	return r, nil
}
