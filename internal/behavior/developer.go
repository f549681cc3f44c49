package behavior

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/planforge/planforge/internal/domain/think"
)

// Developer is the default developer strategy: it acknowledges received
// assignments with a status broadcast so the rest of the roster can see
// progress without a direct wake-up.
type Developer struct{}

type statusReport struct {
	Status       string `json:"status"`
	Acknowledged int    `json:"acknowledged"`
}

// Think reports on inbound assignments. Developers never address peers
// directly; their output is a broadcast, which keeps developer cycles
// from feeding the wake-up chain.
func (d *Developer) Think(_ context.Context, tc *think.Context) (*think.Result, error) {
	res := &think.Result{
		Reasoning: fmt.Sprintf("developer %s processed %d assignments", tc.AgentID, len(tc.Inbox)),
	}
	if len(tc.Inbox) == 0 {
		return res, nil
	}

	payload, err := json.Marshal(statusReport{
		Status:       "in_progress",
		Acknowledged: len(tc.Inbox),
	})
	if err != nil {
		return nil, fmt.Errorf("encode status report: %w", err)
	}

	res.Actions = append(res.Actions, think.Action{
		Broadcast: true,
		Payload:   payload,
	})
	return res, nil
}
