package behavior

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
)

// Manager is the default manager strategy: it digests inbound messages
// (typically optimizer recommendations) and turns them into assignments
// addressed to the project's developers.
type Manager struct{}

type assignment struct {
	Directive string `json:"directive"`
	SourceMsg string `json:"source_msg,omitempty"`
}

// Think forwards actionable inbound messages as developer assignments and
// records a PRIORITIZE decision summarizing the pass.
func (m *Manager) Think(_ context.Context, tc *think.Context) (*think.Result, error) {
	res := &think.Result{
		Reasoning: fmt.Sprintf("manager reviewed %d inbound messages for project %s",
			len(tc.Inbox), tc.ProjectID),
	}
	if len(tc.Inbox) == 0 {
		return res, nil
	}

	source := tc.Inbox[0].ID
	payload, err := json.Marshal(assignment{
		Directive: "act on updated plan",
		SourceMsg: source,
	})
	if err != nil {
		return nil, fmt.Errorf("encode assignment: %w", err)
	}

	for i := range tc.Peers {
		if tc.Peers[i].Type != string(agent.TypeDeveloper) {
			continue
		}
		res.Actions = append(res.Actions, think.Action{
			ToAgentID: &tc.Peers[i].AgentID,
			Payload:   payload,
		})
	}

	res.Actions = append(res.Actions, think.Action{
		DecisionKind: "PRIORITIZE",
		Payload:      payload,
	})
	return res, nil
}
