package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject, including required routing fields.
// A failure wraps ErrMalformed: the event is a caller bug and must not
// be retried. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: invalid JSON on subject %s", ErrMalformed, subject)
	}

	switch subject {
	case SubjectAgentThink:
		var p ThinkEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, subject, err)
		}
		if p.AgentID == "" || p.ProjectID == "" || p.Trigger == "" {
			return fmt.Errorf("%w: %s: agent_id, project_id and trigger are required", ErrMalformed, subject)
		}
	case SubjectProjectPlanning:
		var p PlanningEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformed, subject, err)
		}
		if p.ProjectID == "" {
			return fmt.Errorf("%w: %s: project_id is required", ErrMalformed, subject)
		}
	}
	return nil
}
