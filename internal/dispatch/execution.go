package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Execution is the handle a run function uses to declare named,
// durably memoized steps. Once a step succeeds its result is checkpointed;
// a retried run returns the stored result instead of re-executing the step.
type Execution struct {
	runID       string
	attempt     int
	checkpoints CheckpointStore
}

// NewExecution creates a standalone execution handle. The dispatcher
// builds these internally; direct construction serves tests and callers
// that run a cycle outside the dispatcher.
func NewExecution(runID string, checkpoints CheckpointStore) *Execution {
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpoints()
	}
	return &Execution{runID: runID, checkpoints: checkpoints}
}

// RunID returns the stable identifier of the enclosing run.
func (e *Execution) RunID() string { return e.runID }

// Attempt returns the zero-based attempt number of the enclosing run.
func (e *Execution) Attempt() int { return e.attempt }

// Step executes fn under the given name, memoizing its result. Every step
// boundary is a suspension point: the run may be retried with arbitrary
// delay between steps, but a completed step is never re-executed.
func (e *Execution) Step(ctx context.Context, name string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	data, ok, err := e.checkpoints.GetCheckpoint(ctx, e.runID, name)
	if err != nil {
		return nil, fmt.Errorf("step %s: load checkpoint: %w", name, err)
	}
	if ok {
		slog.Debug("step memoized", "run_id", e.runID, "step", name)
		return data, nil
	}

	data, err = fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	if err := e.checkpoints.PutCheckpoint(ctx, e.runID, name, data); err != nil {
		return nil, fmt.Errorf("step %s: store checkpoint: %w", name, err)
	}
	return data, nil
}

// Step runs a typed step on exec, JSON-encoding the result for the
// checkpoint store. The zero value of T is returned on error.
func Step[T any](ctx context.Context, exec *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	data, err := exec.Step(ctx, name, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("step %s: decode checkpoint: %w", name, err)
	}
	return v, nil
}
