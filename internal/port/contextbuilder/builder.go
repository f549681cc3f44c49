// Package contextbuilder defines the port for assembling a think context.
package contextbuilder

import (
	"context"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
)

// Builder assembles a fresh read-only snapshot of project state plus the
// agent's recent inbound messages and decisions. Failures are transient
// and retried by the enclosing run; the result is never cached across
// cycles.
type Builder interface {
	BuildAgentContext(ctx context.Context, ag *agent.Agent, trigger think.Trigger) (*think.Context, error)
}
