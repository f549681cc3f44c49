package messagequeue

// ThinkEventPayload is the schema for agents.think messages.
type ThinkEventPayload struct {
	AgentID   string `json:"agent_id"`
	ProjectID string `json:"project_id"`
	Trigger   string `json:"trigger"`
	// Hop counts recursive wake-ups along one message chain. Fan-out
	// publishes Hop+1; the dispatcher drops events past its hop budget.
	Hop int `json:"hop"`
}

// PlanningEventPayload is the schema for agents.planning messages.
type PlanningEventPayload struct {
	ProjectID string `json:"project_id"`
}
