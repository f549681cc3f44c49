package behavior

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
)

// Optimizer is the default optimizer strategy: it watches the overall
// message volume of the project and recommends rebalancing when the
// roster looks unevenly loaded. The semantic depth of the analysis lives
// behind the Behavior contract; this default keeps the engine runnable
// without an external reasoning service.
type Optimizer struct{}

type optimizerNote struct {
	Recommendation string `json:"recommendation"`
	MessageCount   int    `json:"message_count"`
}

// Think examines the project snapshot and proposes a reallocation
// decision plus a note to the manager when traffic is high.
func (o *Optimizer) Think(_ context.Context, tc *think.Context) (*think.Result, error) {
	res := &think.Result{
		Reasoning: fmt.Sprintf("optimizer reviewed project %s: %d agents, %d recent messages",
			tc.ProjectID, tc.Snapshot.AgentCount, tc.Snapshot.MessageCount),
	}

	// Quiet project: nothing to rebalance.
	if tc.Snapshot.MessageCount < tc.Snapshot.AgentCount {
		return res, nil
	}

	payload, err := json.Marshal(optimizerNote{
		Recommendation: "rebalance workload across developers",
		MessageCount:   tc.Snapshot.MessageCount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode optimizer note: %w", err)
	}

	res.Actions = append(res.Actions, think.Action{
		DecisionKind: "REALLOCATE",
		Payload:      payload,
	})

	if manager := firstPeer(tc.Peers, agent.TypeManager); manager != nil {
		res.Actions = append(res.Actions, think.Action{
			ToAgentID: &manager.AgentID,
			Payload:   payload,
		})
	}
	return res, nil
}

// firstPeer returns the first roster entry of the given type, or nil.
func firstPeer(peers []think.Peer, t agent.Type) *think.Peer {
	for i := range peers {
		if peers[i].Type == string(t) {
			return &peers[i]
		}
	}
	return nil
}
