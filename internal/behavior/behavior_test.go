package behavior

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/think"
)

func TestRegistryResolvesAllTypes(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []agent.Type{agent.TypeOptimizer, agent.TypeManager, agent.TypeDeveloper} {
		b, err := r.ForType(typ)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if b == nil {
			t.Fatalf("%s: nil behavior", typ)
		}
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ForType("SCRUM_MASTER"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestOptimizerQuietProjectProducesNoActions(t *testing.T) {
	o := &Optimizer{}
	res, err := o.Think(context.Background(), &think.Context{
		ProjectID: "p1",
		Snapshot:  think.ProjectSnapshot{AgentCount: 5, MessageCount: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("expected no actions, got %d", len(res.Actions))
	}
	if res.Reasoning == "" {
		t.Fatal("expected reasoning text")
	}
}

func TestOptimizerBusyProjectMessagesManager(t *testing.T) {
	o := &Optimizer{}
	res, err := o.Think(context.Background(), &think.Context{
		ProjectID: "p1",
		Snapshot:  think.ProjectSnapshot{AgentCount: 3, MessageCount: 12},
		Peers: []think.Peer{
			{AgentID: "dev-1", Type: string(agent.TypeDeveloper)},
			{AgentID: "mgr-1", Type: string(agent.TypeManager)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var decisionKinds, recipients []string
	for _, a := range res.Actions {
		if a.DecisionKind != "" {
			decisionKinds = append(decisionKinds, a.DecisionKind)
		}
		if a.ToAgentID != nil {
			recipients = append(recipients, *a.ToAgentID)
		}
	}
	if len(decisionKinds) != 1 || decisionKinds[0] != "REALLOCATE" {
		t.Fatalf("expected one REALLOCATE decision, got %v", decisionKinds)
	}
	if len(recipients) != 1 || recipients[0] != "mgr-1" {
		t.Fatalf("expected message to mgr-1, got %v", recipients)
	}
}

func TestManagerFansAssignmentsToDevelopers(t *testing.T) {
	m := &Manager{}
	res, err := m.Think(context.Background(), &think.Context{
		ProjectID: "p1",
		Inbox: []message.AgentMessage{
			{ID: "m1", Payload: json.RawMessage(`{"recommendation":"rebalance"}`)},
		},
		Peers: []think.Peer{
			{AgentID: "dev-1", Type: string(agent.TypeDeveloper)},
			{AgentID: "dev-2", Type: string(agent.TypeDeveloper)},
			{AgentID: "opt-1", Type: string(agent.TypeOptimizer)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var recipients []string
	for _, a := range res.Actions {
		if a.ToAgentID != nil {
			recipients = append(recipients, *a.ToAgentID)
		}
	}
	if len(recipients) != 2 {
		t.Fatalf("expected 2 developer assignments, got %v", recipients)
	}
}

func TestManagerEmptyInboxIsIdle(t *testing.T) {
	m := &Manager{}
	res, err := m.Think(context.Background(), &think.Context{ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Actions) != 0 {
		t.Fatalf("expected no actions, got %d", len(res.Actions))
	}
}

func TestDeveloperBroadcastsStatus(t *testing.T) {
	d := &Developer{}
	res, err := d.Think(context.Background(), &think.Context{
		AgentID: "dev-1",
		Inbox: []message.AgentMessage{
			{ID: "m1"}, {ID: "m2"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(res.Actions))
	}
	a := res.Actions[0]
	if a.ToAgentID != nil || !a.Broadcast {
		t.Fatal("expected a broadcast action with no direct recipient")
	}
}
