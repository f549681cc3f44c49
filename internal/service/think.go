package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	podl "github.com/planforge/planforge/internal/adapter/otel"
	"github.com/planforge/planforge/internal/behavior"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/port/contextbuilder"
	"github.com/planforge/planforge/internal/port/database"
	"github.com/planforge/planforge/internal/port/messagequeue"
	"github.com/planforge/planforge/internal/resilience"
)

// Cycle outcome statuses.
const (
	StatusCompleted   = "completed"
	StatusSkipped     = "skipped"
	StatusNoAgentsDue = "no-agents-due"
)

// CycleOutcome reports what one think cycle did. "Cycle succeeded"
// (messages/decisions durably created) and "fan-out dispatched" are
// deliberately separate observations.
type CycleOutcome struct {
	Status           string   `json:"status"`
	MessageIDs       []string `json:"message_ids,omitempty"`
	DecisionIDs      []string `json:"decision_ids,omitempty"`
	FanoutDispatched int      `json:"fanout_dispatched"`
	FanoutFailed     bool     `json:"fanout_failed,omitempty"`
}

// ThinkCycleService executes the unit of work for a single agent:
// load, build context, think, persist results, fan out wake-ups.
type ThinkCycleService struct {
	store    database.Store
	builder  contextbuilder.Builder
	registry *behavior.Registry
	results  *ResultProcessor
	queue    messagequeue.Queue
	breakers *resilience.BreakerSet
	metrics  *podl.Metrics
}

// NewThinkCycleService creates a think cycle service.
func NewThinkCycleService(
	store database.Store,
	builder contextbuilder.Builder,
	registry *behavior.Registry,
	results *ResultProcessor,
	queue messagequeue.Queue,
	breakers *resilience.BreakerSet,
) *ThinkCycleService {
	return &ThinkCycleService{
		store:    store,
		builder:  builder,
		registry: registry,
		results:  results,
		queue:    queue,
		breakers: breakers,
	}
}

// SetMetrics attaches metric instruments (optional).
func (s *ThinkCycleService) SetMetrics(m *podl.Metrics) { s.metrics = m }

// loadedAgent is the checkpointed result of the load step.
type loadedAgent struct {
	Skip  bool         `json:"skip"`
	Agent *agent.Agent `json:"agent,omitempty"`
}

// Run executes one think cycle as named, memoized steps on exec.
// A missing or non-ACTIVE agent is a normal skipped outcome, never an
// error: the run terminates with zero side effects and zero retries.
func (s *ThinkCycleService) Run(ctx context.Context, exec *dispatch.Execution, ev messagequeue.ThinkEventPayload) (*CycleOutcome, error) {
	loaded, err := dispatch.Step(ctx, exec, "load-agent", func(ctx context.Context) (loadedAgent, error) {
		ag, err := s.store.GetAgent(ctx, ev.AgentID)
		if errors.Is(err, domain.ErrNotFound) {
			return loadedAgent{Skip: true}, nil
		}
		if err != nil {
			return loadedAgent{}, err
		}
		if !ag.Runnable() {
			return loadedAgent{Skip: true}, nil
		}
		return loadedAgent{Agent: ag}, nil
	})
	if err != nil {
		return nil, err
	}
	if loaded.Skip {
		s.countSkip(ctx)
		slog.Info("think cycle skipped",
			"agent_id", ev.AgentID, "project_id", ev.ProjectID, "trigger", ev.Trigger)
		return &CycleOutcome{Status: StatusSkipped}, nil
	}
	ag := loaded.Agent

	tc, err := dispatch.Step(ctx, exec, "build-context", func(ctx context.Context) (*think.Context, error) {
		return s.builder.BuildAgentContext(ctx, ag, think.Trigger(ev.Trigger))
	})
	if err != nil {
		return nil, err
	}

	result, err := dispatch.Step(ctx, exec, "think", func(ctx context.Context) (*think.Result, error) {
		return s.invoke(ctx, ag, tc)
	})
	if err != nil {
		return nil, err
	}

	processed, err := dispatch.Step(ctx, exec, "process-results", func(ctx context.Context) (*ProcessOutcome, error) {
		return s.results.Process(ctx, ag, result)
	})
	if err != nil {
		return nil, err
	}

	outcome := &CycleOutcome{
		Status:      StatusCompleted,
		MessageIDs:  processed.MessageIDs,
		DecisionIDs: processed.DecisionIDs,
	}

	// Fan-out is the final, best-effort action of the cycle: a publish
	// failure is observable on the outcome but does not fail the run,
	// whose messages and decisions are already durable.
	s.fanOut(ctx, ag, ev, processed.Recipients, outcome)

	slog.Info("think cycle completed",
		"agent_id", ag.ID, "project_id", ag.ProjectID, "trigger", ev.Trigger,
		"messages", len(outcome.MessageIDs), "decisions", len(outcome.DecisionIDs),
		"fanout", outcome.FanoutDispatched)
	return outcome, nil
}

// invoke resolves the behavior for the agent's type and calls it behind
// that type's circuit breaker.
func (s *ThinkCycleService) invoke(ctx context.Context, ag *agent.Agent, tc *think.Context) (*think.Result, error) {
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
	return result, nil
}

// fanOut publishes one deduplicated wake-up event per direct message
// recipient, carrying an incremented hop count.
func (s *ThinkCycleService) fanOut(ctx context.Context, ag *agent.Agent, ev messagequeue.ThinkEventPayload, recipients []string, outcome *CycleOutcome) {
	if len(recipients) == 0 {
		return
	}

	batch := make([][]byte, 0, len(recipients))
	for _, to := range recipients {
		wake := messagequeue.ThinkEventPayload{
			AgentID:   to,
			ProjectID: ag.ProjectID,
			Trigger:   string(think.TriggerMessageReceived),
			Hop:       ev.Hop + 1,
		}
		data, err := json.Marshal(wake)
		if err != nil {
			slog.Error("encode wake-up event", "to", to, "error", err)
			continue
		}
		batch = append(batch, data)
	}

	if err := s.queue.PublishBatch(ctx, messagequeue.SubjectAgentThink, batch); err != nil {
		outcome.FanoutFailed = true
		slog.Warn("fan-out dispatch failed; cycle results stand",
			"agent_id", ag.ID, "recipients", len(batch), "error", err)
		return
	}
	outcome.FanoutDispatched = len(batch)
	if s.metrics != nil && s.metrics.FanoutPublished != nil {
		s.metrics.FanoutPublished.Add(ctx, int64(len(batch)))
	}
}

func (s *ThinkCycleService) countSkip(ctx context.Context) {
	if s.metrics != nil && s.metrics.RunsSkipped != nil {
		s.metrics.RunsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "think")))
	}
}
