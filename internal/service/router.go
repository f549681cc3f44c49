package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	podl "github.com/planforge/planforge/internal/adapter/otel"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/port/messagequeue"
)

// EventRouter connects queue subjects to dispatcher run kinds. It
// validates incoming payloads, enforces the fan-out hop budget, and
// registers the run functions that decode payloads for the services.
type EventRouter struct {
	queue      messagequeue.Queue
	dispatcher *dispatch.Dispatcher
	think      *ThinkCycleService
	planning   *PlanningService
	heartbeat  *HeartbeatService
	maxHops    int
	metrics    *podl.Metrics

	cancels []func()
}

// NewEventRouter creates a router. maxHops bounds how deep a chain of
// message-triggered wake-ups can recurse before events are dropped.
func NewEventRouter(
	queue messagequeue.Queue,
	dispatcher *dispatch.Dispatcher,
	think *ThinkCycleService,
	planning *PlanningService,
	heartbeat *HeartbeatService,
	maxHops int,
) *EventRouter {
	return &EventRouter{
		queue:      queue,
		dispatcher: dispatcher,
		think:      think,
		planning:   planning,
		heartbeat:  heartbeat,
		maxHops:    maxHops,
	}
}

// SetMetrics attaches metric instruments (optional).
func (r *EventRouter) SetMetrics(m *podl.Metrics) { r.metrics = m }

// RegisterRuns binds the service run functions to their dispatcher
// kinds with the given budgets.
func (r *EventRouter) RegisterRuns(thinkCfg, planningCfg, heartbeatCfg dispatch.KindConfig) {
	r.dispatcher.Register(dispatch.KindThink, thinkCfg, func(ctx context.Context, exec *dispatch.Execution, payload []byte) error {
		var ev messagequeue.ThinkEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: decode think payload: %v", dispatch.ErrPermanent, err)
		}
		_, err := r.think.Run(ctx, exec, ev)
		return err
	})

	r.dispatcher.Register(dispatch.KindPlanning, planningCfg, func(ctx context.Context, exec *dispatch.Execution, payload []byte) error {
		var ev messagequeue.PlanningEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: decode planning payload: %v", dispatch.ErrPermanent, err)
		}
		_, err := r.planning.Run(ctx, exec, ev.ProjectID)
		return err
	})

	r.dispatcher.Register(dispatch.KindHeartbeat, heartbeatCfg, func(ctx context.Context, exec *dispatch.Execution, _ []byte) error {
		_, err := r.heartbeat.Sweep(ctx, exec)
		return err
	})
}

// Start subscribes to the trigger subjects. Handlers return a wrapped
// messagequeue.ErrMalformed for payloads that can never be processed;
// the queue adapter terminates those deliveries instead of requeueing.
func (r *EventRouter) Start(ctx context.Context) error {
	cancelThink, err := r.queue.Subscribe(ctx, messagequeue.SubjectAgentThink, r.handleThink)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectAgentThink, err)
	}
	r.cancels = append(r.cancels, cancelThink)

	cancelPlanning, err := r.queue.Subscribe(ctx, messagequeue.SubjectProjectPlanning, r.handlePlanning)
	if err != nil {
		cancelThink()
		return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectProjectPlanning, err)
	}
	r.cancels = append(r.cancels, cancelPlanning)

	slog.Info("event router started",
		"subjects", []string{messagequeue.SubjectAgentThink, messagequeue.SubjectProjectPlanning},
		"max_hops", r.maxHops)
	return nil
}

// Stop cancels the router's subscriptions.
func (r *EventRouter) Stop() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
}

func (r *EventRouter) handleThink(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	var ev messagequeue.ThinkEventPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", messagequeue.ErrMalformed, err)
	}

	// Drop, don't error: past the hop budget the chain is assumed to be
	// a ping-pong loop and the event is discarded at the edge.
	if r.maxHops > 0 && ev.Hop > r.maxHops {
		slog.Warn("dropping wake-up past hop budget",
			"agent_id", ev.AgentID, "project_id", ev.ProjectID, "hop", ev.Hop, "max_hops", r.maxHops)
		if r.metrics != nil && r.metrics.FanoutDropped != nil {
			r.metrics.FanoutDropped.Add(ctx, 1)
		}
		return nil
	}

	return r.dispatcher.Submit(ctx, dispatch.Run{
		Kind:    dispatch.KindThink,
		Key:     ev.AgentID,
		Payload: data,
	})
}

func (r *EventRouter) handlePlanning(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	var ev messagequeue.PlanningEventPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", messagequeue.ErrMalformed, err)
	}
	return r.dispatcher.Submit(ctx, dispatch.Run{
		Kind:    dispatch.KindPlanning,
		Key:     ev.ProjectID,
		Payload: data,
	})
}
