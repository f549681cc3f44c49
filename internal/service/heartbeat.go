package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/port/database"
	"github.com/planforge/planforge/internal/port/messagequeue"
)

// claimedAgent is one agent the sweep won the race for.
type claimedAgent struct {
	AgentID   string `json:"agent_id"`
	ProjectID string `json:"project_id"`
}

// SweepOutcome reports one heartbeat sweep.
type SweepOutcome struct {
	Status     string `json:"status"`
	Due        int    `json:"due"`
	Claimed    int    `json:"claimed"`
	Dispatched int    `json:"dispatched"`
}

// HeartbeatService periodically wakes stale agents. A sweep claims each
// due agent by advancing its run marker with a conditional update, so
// two overlapping sweeps never wake the same agent twice; losing the
// claim race is routine, not an error.
type HeartbeatService struct {
	store      database.Store
	queue      messagequeue.Queue
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

// NewHeartbeatService creates a heartbeat service. staleAfter is how
// long since an agent's last run before it counts as due; batch caps
// how many agents one sweep wakes.
func NewHeartbeatService(store database.Store, queue messagequeue.Queue, staleAfter time.Duration, batch int) *HeartbeatService {
	return &HeartbeatService{
		store:      store,
		queue:      queue,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}
}

// Sweep runs one heartbeat pass as memoized steps on exec. The claim
// step is checkpointed, so a retry of the dispatch step re-publishes
// for the agents already claimed instead of claiming a new batch.
func (s *HeartbeatService) Sweep(ctx context.Context, exec *dispatch.Execution) (*SweepOutcome, error) {
	claimed, err := dispatch.Step(ctx, exec, "claim-due", func(ctx context.Context) ([]claimedAgent, error) {
		now := s.now()
		due, err := s.store.ListDueAgents(ctx, now.Add(-s.staleAfter), s.batch)
		if err != nil {
			return nil, err
		}
		won := make([]claimedAgent, 0, len(due))
		for i := range due {
			ag := &due[i]
			err := s.store.ClaimAgentRun(ctx, ag.ID, ag.LastRunAt, now)
			if errors.Is(err, domain.ErrConflict) {
				slog.Debug("agent claimed by concurrent sweep", "agent_id", ag.ID)
				continue
			}
			if err != nil {
				return nil, err
			}
			won = append(won, claimedAgent{AgentID: ag.ID, ProjectID: ag.ProjectID})
		}
		slog.Info("heartbeat sweep claimed agents", "due", len(due), "claimed", len(won))
		return won, nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) == 0 {
		return &SweepOutcome{Status: StatusNoAgentsDue}, nil
	}

	dispatched, err := dispatch.Step(ctx, exec, "dispatch-wakeups", func(ctx context.Context) (int, error) {
		batch := make([][]byte, 0, len(claimed))
		for _, c := range claimed {
			ev := messagequeue.ThinkEventPayload{
				AgentID:   c.AgentID,
				ProjectID: c.ProjectID,
				Trigger:   string(think.TriggerScheduled),
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return 0, err
			}
			batch = append(batch, data)
		}
		if err := s.queue.PublishBatch(ctx, messagequeue.SubjectAgentThink, batch); err != nil {
			return 0, err
		}
		return len(batch), nil
	})
	if err != nil {
		return nil, err
	}

	return &SweepOutcome{
		Status:     StatusCompleted,
		Due:        len(claimed),
		Claimed:    len(claimed),
		Dispatched: dispatched,
	}, nil
}
