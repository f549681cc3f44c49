// Package behavior maps agent types to their reasoning strategies.
//
// The mapping is closed: the three planning roles are compile-time
// variants and each resolves to a fixed strategy through one switch.
// Adding a role means adding a type constant and a strategy here, not
// registering anything dynamically.
package behavior

import (
	"context"
	"fmt"

	"github.com/planforge/planforge/internal/domain/agent"
	"github.com/planforge/planforge/internal/domain/think"
)

// Behavior is the single capability a reasoning strategy exposes.
// Implementations may fail transiently (upstream reasoning services);
// callers retry within their run budget.
type Behavior interface {
	Think(ctx context.Context, tc *think.Context) (*think.Result, error)
}

// Registry resolves agent types to strategies.
type Registry struct {
	optimizer Behavior
	manager   Behavior
	developer Behavior
}

// NewRegistry creates a registry with the default heuristic strategies.
func NewRegistry() *Registry {
	return &Registry{
		optimizer: &Optimizer{},
		manager:   &Manager{},
		developer: &Developer{},
	}
}

// NewRegistryWith creates a registry with explicit strategies, one per
// role. Used by tests and by embedders that supply their own reasoning.
func NewRegistryWith(optimizer, manager, developer Behavior) *Registry {
	return &Registry{optimizer: optimizer, manager: manager, developer: developer}
}

// ForType returns the strategy for the given agent type.
func (r *Registry) ForType(t agent.Type) (Behavior, error) {
	switch t {
	case agent.TypeOptimizer:
		return r.optimizer, nil
	case agent.TypeManager:
		return r.manager, nil
	case agent.TypeDeveloper:
		return r.developer, nil
	default:
		return nil, fmt.Errorf("no behavior for agent type %q", t)
	}
}
