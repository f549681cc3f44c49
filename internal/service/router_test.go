package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/behavior"
	"github.com/planforge/planforge/internal/dispatch"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/port/messagequeue"
	"github.com/planforge/planforge/internal/resilience"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newRouterFixture(t *testing.T, store *mockStore, queue *mockQueue, maxHops int) (*EventRouter, *dispatch.Dispatcher) {
	t.Helper()
	builder := NewContextService(store, 50, 20)
	results := NewResultProcessor(store, 48*time.Hour)
	breakers := resilience.NewBreakerSet(5, time.Minute)
	reg := behavior.NewRegistry()

	thinkSvc := NewThinkCycleService(store, builder, reg, results, queue, breakers)
	planningSvc := NewPlanningService(store, builder, reg, results, breakers)
	heartbeatSvc := NewHeartbeatService(store, queue, 10*time.Minute, 50)

	d := dispatch.New(dispatch.Options{MaxConcurrent: 4})
	router := NewEventRouter(queue, d, thinkSvc, planningSvc, heartbeatSvc, maxHops)
	router.RegisterRuns(
		dispatch.KindConfig{Retries: 2},
		dispatch.KindConfig{Retries: 1},
		dispatch.KindConfig{Retries: 1},
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return router, d
}

func TestRouterRejectsMalformedPayloads(t *testing.T) {
	store := newMockStore()
	queue := newMockQueue()
	router, d := newRouterFixture(t, store, queue, 8)

	cases := []struct {
		name string
		data []byte
	}{
		{"invalid json", []byte(`{"agent_id":`)},
		{"missing agent id", []byte(`{"project_id":"p","trigger":"scheduled"}`)},
		{"missing trigger", []byte(`{"agent_id":"a","project_id":"p"}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := router.handleThink(context.Background(), messagequeue.SubjectAgentThink, tc.data)
			if !errors.Is(err, messagequeue.ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}

	err := router.handlePlanning(context.Background(), messagequeue.SubjectProjectPlanning, []byte(`{}`))
	if !errors.Is(err, messagequeue.ErrMalformed) {
		t.Fatalf("planning err = %v, want ErrMalformed", err)
	}

	d.Drain()
	if store.messageCount() != 0 || store.decisionCount() != 0 {
		t.Fatal("malformed events must have no side effects")
	}
}

func TestRouterDropsEventsPastHopBudget(t *testing.T) {
	store := newMockStore()
	queue := newMockQueue()
	store.addProject("proj-1", "apollo")
	store.addAgent(agent.Agent{ID: "mgr-1", ProjectID: "proj-1", Type: agent.TypeManager, Status: agent.StatusActive})
	router, d := newRouterFixture(t, store, queue, 3)

	data := []byte(`{"agent_id":"mgr-1","project_id":"proj-1","trigger":"message_received","hop":4}`)
	if err := router.handleThink(context.Background(), messagequeue.SubjectAgentThink, data); err != nil {
		t.Fatalf("dropped event must not error: %v", err)
	}

	d.Drain()
	if store.messageCount() != 0 || store.decisionCount() != 0 {
		t.Fatal("event past hop budget must not run")
	}
}

func TestRouterRunsThinkCycleEndToEnd(t *testing.T) {
	store := newMockStore()
	queue := newMockQueue()
	store.addProject("proj-1", "apollo")
	base := time.Now().Add(-time.Hour)
	store.addAgent(agent.Agent{ID: "mgr-1", ProjectID: "proj-1", Type: agent.TypeManager, Status: agent.StatusActive, CreatedAt: base})
	store.addAgent(agent.Agent{ID: "dev-1", ProjectID: "proj-1", Type: agent.TypeDeveloper, Status: agent.StatusActive, CreatedAt: base.Add(time.Second)})
	router, _ := newRouterFixture(t, store, queue, 8)

	// A manager with an inbound message assigns work to its developer
	// and records a decision.
	mgrID := "mgr-1"
	now := time.Now()
	seedMsg := message.AgentMessage{
		ID: "note-1", ProjectID: "proj-1", FromAgentID: "dev-1", ToAgentID: &mgrID,
		CreatedAt: now, ExpiresAt: now.Add(48 * time.Hour),
	}
	if _, err := store.CreateMessage(context.Background(), &seedMsg); err != nil {
		t.Fatal(err)
	}

	ev := []byte(`{"agent_id":"mgr-1","project_id":"proj-1","trigger":"scheduled","hop":0}`)
	if err := router.handleThink(context.Background(), messagequeue.SubjectAgentThink, ev); err != nil {
		t.Fatalf("handleThink: %v", err)
	}

	waitFor(t, func() bool { return store.decisionCount() >= 1 })
	waitFor(t, func() bool {
		return len(queue.publishedOn(messagequeue.SubjectAgentThink)) >= 1
	})
}

func TestRouterStartSubscribesAndStopCancels(t *testing.T) {
	store := newMockStore()
	queue := newMockQueue()
	router, _ := newRouterFixture(t, store, queue, 8)

	if err := router.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	queue.mu.Lock()
	subs := len(queue.handlers)
	queue.mu.Unlock()
	if subs != 2 {
		t.Fatalf("subscriptions = %d, want 2", subs)
	}

	router.Stop()
	queue.mu.Lock()
	subs = len(queue.handlers)
	queue.mu.Unlock()
	if subs != 0 {
		t.Fatalf("subscriptions after Stop = %d, want 0", subs)
	}
}
