package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/behavior"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/think"
	"github.com/planforge/planforge/internal/resilience"
)

// scriptedBehavior runs an arbitrary function per call and records the
// contexts it saw.
type scriptedBehavior struct {
	fn   func(tc *think.Context) (*think.Result, error)
	seen []*think.Context
}

func (s *scriptedBehavior) Think(_ context.Context, tc *think.Context) (*think.Result, error) {
	s.seen = append(s.seen, tc)
	if s.fn == nil {
		return &think.Result{Reasoning: "noop"}, nil
	}
	return s.fn(tc)
}

func newPlanningFixture(store *mockStore, reg *behavior.Registry) *PlanningService {
	builder := NewContextService(store, 50, 20)
	results := NewResultProcessor(store, 48*time.Hour)
	breakers := resilience.NewBreakerSet(5, time.Minute)
	return NewPlanningService(store, builder, reg, results, breakers)
}

func seedPlanningProject(store *mockStore) {
	store.addProject("proj-1", "apollo")
	base := time.Now().Add(-time.Hour)
	store.addAgent(agent.Agent{ID: "opt-1", ProjectID: "proj-1", Type: agent.TypeOptimizer, Status: agent.StatusActive, CreatedAt: base})
	store.addAgent(agent.Agent{ID: "mgr-1", ProjectID: "proj-1", Type: agent.TypeManager, Status: agent.StatusActive, CreatedAt: base.Add(time.Second)})
	store.addAgent(agent.Agent{ID: "dev-1", ProjectID: "proj-1", Type: agent.TypeDeveloper, Status: agent.StatusActive, CreatedAt: base.Add(2 * time.Second)})
	store.addAgent(agent.Agent{ID: "dev-2", ProjectID: "proj-1", Type: agent.TypeDeveloper, Status: agent.StatusActive, CreatedAt: base.Add(3 * time.Second)})
}

func TestPlanningRunsRolesInOrderWithVisibleMessages(t *testing.T) {
	store := newMockStore()
	seedPlanningProject(store)

	mgrID := "mgr-1"
	optimizer := &scriptedBehavior{fn: func(*think.Context) (*think.Result, error) {
		return &think.Result{Actions: []think.Action{
			{ToAgentID: &mgrID, Payload: json.RawMessage(`{"recommendation":"rebalance"}`)},
		}}, nil
	}}
	manager := &scriptedBehavior{fn: func(tc *think.Context) (*think.Result, error) {
		var actions []think.Action
		for i := range tc.Peers {
			if tc.Peers[i].Type == string(agent.TypeDeveloper) {
				actions = append(actions, think.Action{ToAgentID: &tc.Peers[i].AgentID, Payload: json.RawMessage(`{"directive":"go"}`)})
			}
		}
		return &think.Result{Actions: actions}, nil
	}}
	developer := &scriptedBehavior{}

	svc := newPlanningFixture(store, behavior.NewRegistryWith(optimizer, manager, developer))
	exec := dispatch.NewExecution("plan-1", dispatch.NewMemoryCheckpoints())
	out, err := svc.Run(context.Background(), exec, "proj-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"opt-1", "mgr-1", "dev-1", "dev-2"}
	if !reflect.DeepEqual(out.Participants, want) {
		t.Fatalf("participants = %v, want %v", out.Participants, want)
	}

	// The optimizer's note must be in the manager's inbox within the
	// same pass.
	if len(manager.seen) != 1 {
		t.Fatalf("manager invoked %d times, want 1", len(manager.seen))
	}
	inbox := manager.seen[0].Inbox
	found := false
	for _, m := range inbox {
		if m.FromAgentID == "opt-1" && m.Direct() && *m.ToAgentID == "mgr-1" {
			found = true
		}
	}
	if !found {
		t.Fatal("optimizer message not visible to manager in the same pass")
	}

	// Each developer sees its own assignment.
	if len(developer.seen) != 2 {
		t.Fatalf("developers invoked %d times, want 2", len(developer.seen))
	}
	for _, tc := range developer.seen {
		gotAssignment := false
		for _, m := range tc.Inbox {
			if m.FromAgentID == "mgr-1" && m.Direct() && *m.ToAgentID == tc.AgentID {
				gotAssignment = true
			}
		}
		if !gotAssignment {
			t.Errorf("developer %s saw no assignment", tc.AgentID)
		}
	}

	// 1 optimizer note + 2 assignments.
	if len(out.MessageIDs) != 3 {
		t.Fatalf("messages = %d, want 3", len(out.MessageIDs))
	}
}

func TestPlanningUnknownProjectIsPermanent(t *testing.T) {
	store := newMockStore()
	svc := newPlanningFixture(store, behavior.NewRegistry())

	exec := dispatch.NewExecution("plan-1", dispatch.NewMemoryCheckpoints())
	_, err := svc.Run(context.Background(), exec, "no-such-project")
	if !errors.Is(err, dispatch.ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
}

func TestPlanningSkipsWhenNoActiveAgents(t *testing.T) {
	store := newMockStore()
	store.addProject("proj-1", "apollo")
	store.addAgent(agent.Agent{ID: "mgr-1", ProjectID: "proj-1", Type: agent.TypeManager, Status: agent.StatusArchived})

	svc := newPlanningFixture(store, behavior.NewRegistry())
	exec := dispatch.NewExecution("plan-1", dispatch.NewMemoryCheckpoints())
	out, err := svc.Run(context.Background(), exec, "proj-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != StatusSkipped {
		t.Fatalf("status = %q, want %q", out.Status, StatusSkipped)
	}
	if store.messageCount() != 0 || store.decisionCount() != 0 {
		t.Fatal("no active agents must mean no side effects")
	}
}

func TestPlanningCleanupRemovesOnlyExpiredMessages(t *testing.T) {
	store := newMockStore()
	store.addProject("proj-1", "apollo")
	store.addAgent(agent.Agent{ID: "mgr-1", ProjectID: "proj-1", Type: agent.TypeManager, Status: agent.StatusActive})

	now := time.Now()
	old := message.AgentMessage{
		ID: "old", ProjectID: "proj-1", FromAgentID: "mgr-1",
		CreatedAt: now.Add(-49 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	fresh := message.AgentMessage{
		ID: "fresh", ProjectID: "proj-1", FromAgentID: "mgr-1",
		CreatedAt: now.Add(-47 * time.Hour), ExpiresAt: now.Add(time.Hour),
	}
	if _, err := store.CreateMessage(context.Background(), &old); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateMessage(context.Background(), &fresh); err != nil {
		t.Fatal(err)
	}

	svc := newPlanningFixture(store, behavior.NewRegistry())
	exec := dispatch.NewExecution("plan-1", dispatch.NewMemoryCheckpoints())
	out, err := svc.Run(context.Background(), exec, "proj-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExpiredMessages != 1 {
		t.Fatalf("expired = %d, want 1", out.ExpiredMessages)
	}
	if store.messageCount() != 1 {
		t.Fatalf("remaining messages = %d, want 1", store.messageCount())
	}
}

func TestPlanningRetryResumesAfterCompletedRoles(t *testing.T) {
	store := newMockStore()
	seedPlanningProject(store)

	optimizer := &scriptedBehavior{}
	manager := &scriptedBehavior{}
	failures := 1
	developer := &scriptedBehavior{fn: func(*think.Context) (*think.Result, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("transient developer failure")
		}
		return &think.Result{}, nil
	}}

	svc := newPlanningFixture(store, behavior.NewRegistryWith(optimizer, manager, developer))
	checkpoints := dispatch.NewMemoryCheckpoints()

	if _, err := svc.Run(context.Background(), dispatch.NewExecution("plan-1", checkpoints), "proj-1"); err == nil {
		t.Fatal("expected first attempt to fail on developer step")
	}
	out, err := svc.Run(context.Background(), dispatch.NewExecution("plan-1", checkpoints), "proj-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", out.Status)
	}
	if len(optimizer.seen) != 1 {
		t.Fatalf("optimizer invoked %d times across retry, want 1", len(optimizer.seen))
	}
	if len(manager.seen) != 1 {
		t.Fatalf("manager invoked %d times across retry, want 1", len(manager.seen))
	}
}
