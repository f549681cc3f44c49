package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/planforge/planforge/internal/domain"
	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/decision"
	"github.com/planforge/planforge/internal/domain/message"
	"github.com/planforge/planforge/internal/domain/project"
	"github.com/planforge/planforge/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu          sync.Mutex
	projects    map[string]project.Project
	agents      map[string]agent.Agent
	messages    []message.AgentMessage
	decisions   []decision.Decision
	checkpoints map[string][]byte

	failClaim map[string]error // agent ID -> forced ClaimAgentRun error
	claims    []string         // agent IDs claimed, in order
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:    make(map[string]project.Project),
		agents:      make(map[string]agent.Agent),
		checkpoints: make(map[string][]byte),
		failClaim:   make(map[string]error),
	}
}

func (m *mockStore) addProject(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id] = project.Project{ID: id, Name: name, CreatedAt: time.Now()}
}

func (m *mockStore) addAgent(ag agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ag.CreatedAt.IsZero() {
		ag.CreatedAt = time.Now()
	}
	m.agents[ag.ID] = ag
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ag, nil
}

func (m *mockStore) ListAgentsByProject(_ context.Context, projectID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, ag := range m.agents {
		if ag.ProjectID == projectID {
			out = append(out, ag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) ListDueAgents(_ context.Context, cutoff time.Time, limit int) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, ag := range m.agents {
		if ag.Status != agent.StatusActive {
			continue
		}
		if ag.LastRunAt == nil || ag.LastRunAt.Before(cutoff) {
			out = append(out, ag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) ClaimAgentRun(_ context.Context, id string, observed *time.Time, ranAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failClaim[id]; ok {
		return err
	}
	ag, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	stored := ag.LastRunAt
	if (stored == nil) != (observed == nil) || (stored != nil && !stored.Equal(*observed)) {
		return domain.ErrConflict
	}
	ag.LastRunAt = &ranAt
	m.agents[id] = ag
	m.claims = append(m.claims, id)
	return nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	ag.Status = status
	m.agents[id] = ag
	return nil
}

func (m *mockStore) CreateMessage(_ context.Context, msg *message.AgentMessage) (*message.AgentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return msg, nil
}

func (m *mockStore) ListMessagesForAgent(_ context.Context, projectID, agentID string, limit int) ([]message.AgentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []message.AgentMessage
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.ProjectID != projectID || msg.Expired(now) {
			continue
		}
		if msg.ToAgentID == nil || *msg.ToAgentID == agentID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) CountMessagesByProject(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) DeleteExpiredMessages(_ context.Context, projectID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []message.AgentMessage
	var deleted int64
	for _, msg := range m.messages {
		if msg.ProjectID == projectID && msg.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

func (m *mockStore) DeleteAllExpiredMessages(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []message.AgentMessage
	var deleted int64
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return deleted, nil
}

func (m *mockStore) CreateDecision(_ context.Context, d *decision.Decision) (*decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return d, nil
}

func (m *mockStore) ListRecentDecisions(_ context.Context, projectID string, limit int) ([]decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []decision.Decision
	for i := len(m.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.decisions[i].ProjectID == projectID {
			out = append(out, m.decisions[i])
		}
	}
	return out, nil
}

func (m *mockStore) GetCheckpoint(_ context.Context, runID, step string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.checkpoints[runID+"/"+step]
	return data, ok, nil
}

func (m *mockStore) PutCheckpoint(_ context.Context, runID, step string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[runID+"/"+step] = result
	return nil
}

func (m *mockStore) DeleteRunCheckpoints(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.checkpoints {
		if len(k) > len(runID) && k[:len(runID)+1] == runID+"/" {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

func (m *mockStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *mockStore) decisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

// published is one captured queue publication.
type published struct {
	subject string
	data    []byte
}

// mockQueue is an in-memory messagequeue.Queue for service tests.
type mockQueue struct {
	mu         sync.Mutex
	events     []published
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.events = append(q.events, published{subject: subject, data: data})
	return nil
}

func (q *mockQueue) PublishBatch(ctx context.Context, subject string, msgs [][]byte) error {
	for _, data := range msgs {
		if err := q.Publish(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.handlers, subject)
	}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) publishedOn(subject string) []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []published
	for _, ev := range q.events {
		if ev.subject == subject {
			out = append(out, ev)
		}
	}
	return out
}
