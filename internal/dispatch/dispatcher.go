// Package dispatch implements the durable execution substrate for engine
// runs: named memoized steps, bounded whole-run retry, key-based throttling
// with coalescing, and a bounded worker pool. It is the in-process
// equivalent of a hosted event runtime, kept explicit so memoization and
// retry exhaustion are independently testable.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	podl "github.com/planforge/planforge/internal/adapter/otel"
	"github.com/planforge/planforge/internal/logger"
	"github.com/planforge/planforge/internal/port/cache"
)

// ErrPermanent marks a run failure that must not be retried.
var ErrPermanent = errors.New("permanent run failure")

// ErrUnknownKind is returned by Submit for an unregistered run kind.
var ErrUnknownKind = errors.New("unknown run kind")

// Kind names a class of runs sharing a function, retry budget and
// throttle window.
type Kind string

const (
	KindThink     Kind = "think"
	KindPlanning  Kind = "planning"
	KindHeartbeat Kind = "heartbeat"
)

// RunFunc is the body of a run. It declares its work as named steps on
// exec; returning an error retries the whole run within the kind's budget
// (completed steps stay memoized).
type RunFunc func(ctx context.Context, exec *Execution, payload []byte) error

// KindConfig bounds one run kind.
type KindConfig struct {
	// Retries is how many times the whole run is retried after the first
	// failed attempt.
	Retries int
	// Window is the per-key throttle period; zero disables throttling.
	Window time.Duration
}

// Run is one submission to the dispatcher.
type Run struct {
	// ID identifies the run for step memoization and idempotency.
	// Empty means a fresh ID is assigned.
	ID   string
	Kind Kind
	// Key is the throttle dimension (agent id or project id).
	Key     string
	Payload []byte
}

type kindEntry struct {
	cfg KindConfig
	fn  RunFunc
}

// Dispatcher executes submitted runs on a bounded worker pool.
type Dispatcher struct {
	mu    sync.Mutex
	kinds map[Kind]kindEntry

	checkpoints CheckpointStore
	idem        cache.Cache
	idemTTL     time.Duration
	throttle    *Throttle
	sem         *semaphore.Weighted
	metrics     *podl.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timers  map[string]*time.Timer
}

// Options configures a Dispatcher.
type Options struct {
	Checkpoints CheckpointStore
	// Idempotency is optional; when set, completed run IDs are marked so
	// redelivered submissions with the same ID are absorbed.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
	MaxConcurrent  int
	Metrics        *podl.Metrics
}

// New creates a Dispatcher. Kinds must be registered before Submit.
func New(opts Options) *Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = NewMemoryCheckpoints()
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		kinds:       make(map[Kind]kindEntry),
		checkpoints: opts.Checkpoints,
		idem:        opts.Idempotency,
		idemTTL:     opts.IdempotencyTTL,
		throttle:    NewThrottle(),
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		metrics:     opts.Metrics,
		baseCtx:     ctx,
		cancel:      cancel,
		timers:      make(map[string]*time.Timer),
	}
}

// Register binds a run function and its config to a kind.
func (d *Dispatcher) Register(kind Kind, cfg KindConfig, fn RunFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds[kind] = kindEntry{cfg: cfg, fn: fn}
}

// Submit schedules a run. The run executes asynchronously: immediately if
// its throttle window is open, at the window end if deferred, or not at
// all if an identical deferred run is already pending (coalesced) or the
// run ID already completed (idempotent replay).
func (d *Dispatcher) Submit(ctx context.Context, run Run) error {
	d.mu.Lock()
	entry, ok := d.kinds[run.Kind]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, run.Kind)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	} else if d.alreadyCompleted(ctx, run.ID) {
		slog.Debug("run already completed, absorbing redelivery", "run_id", run.ID, "kind", run.Kind)
		return nil
	}

	throttleKey := string(run.Kind) + ":" + run.Key
	decision, wait := d.throttle.Reserve(throttleKey, entry.cfg.Window)
	switch decision {
	case DecisionStart:
		d.launch(run, entry)
	case DecisionDefer:
		d.countThrottle(run.Kind, "deferred")
		slog.Info("run deferred by throttle window",
			"kind", run.Kind, "key", run.Key, "wait", wait)
		d.deferLaunch(throttleKey, run, entry, wait)
	case DecisionCoalesce:
		d.countThrottle(run.Kind, "coalesced")
		slog.Debug("run coalesced into pending deferred run",
			"kind", run.Kind, "key", run.Key)
	}
	return nil
}

// deferLaunch schedules run to start when its throttle window reopens.
func (d *Dispatcher) deferLaunch(throttleKey string, run Run, entry kindEntry, wait time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timers[run.ID] = time.AfterFunc(wait, func() {
		d.mu.Lock()
		delete(d.timers, run.ID)
		d.mu.Unlock()
		d.throttle.Release(throttleKey)
		d.launch(run, entry)
	})
}

// launch runs the attempt loop on the worker pool.
func (d *Dispatcher) launch(run Run, entry kindEntry) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.baseCtx, 1); err != nil {
			return // dispatcher stopped
		}
		defer d.sem.Release(1)
		d.execute(run, entry)
	}()
}

// execute drives one run through its retry envelope.
func (d *Dispatcher) execute(run Run, entry kindEntry) {
	ctx := logger.WithRunID(d.baseCtx, run.ID)
	start := time.Now()
	attempt := 0

	d.count(func(m *podl.Metrics) metric.Int64Counter { return m.RunsStarted }, run.Kind)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		exec := &Execution{runID: run.ID, attempt: attempt, checkpoints: d.checkpoints}
		runErr := entry.fn(ctx, exec, run.Payload)
		if runErr == nil {
			return struct{}{}, nil
		}
		if errors.Is(runErr, ErrPermanent) {
			return struct{}{}, backoff.Permanent(runErr)
		}
		attempt++
		d.count(func(m *podl.Metrics) metric.Int64Counter { return m.RunsRetried }, run.Kind)
		slog.Warn("run attempt failed",
			"kind", run.Kind, "run_id", run.ID, "attempt", attempt, "error", runErr)
		return struct{}{}, runErr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(entry.cfg.Retries+1)))

	if err != nil {
		d.count(func(m *podl.Metrics) metric.Int64Counter { return m.RunsFailed }, run.Kind)
		slog.Error("run failed after exhausting retries",
			"kind", run.Kind, "run_id", run.ID, "key", run.Key, "error", err)
		return
	}

	d.markCompleted(ctx, run.ID)
	if err := d.checkpoints.DeleteRunCheckpoints(ctx, run.ID); err != nil {
		slog.Warn("failed to clear run checkpoints", "run_id", run.ID, "error", err)
	}

	d.count(func(m *podl.Metrics) metric.Int64Counter { return m.RunsCompleted }, run.Kind)
	if m := d.metrics; m != nil && m.RunDuration != nil {
		m.RunDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("kind", string(run.Kind))))
	}
	slog.Info("run completed",
		"kind", run.Kind, "run_id", run.ID, "key", run.Key,
		"attempts", attempt+1, "duration", time.Since(start))
}

// Throttle exposes the dispatcher's throttle for idle-key cleanup wiring.
func (d *Dispatcher) Throttle() *Throttle { return d.throttle }

// Stop cancels pending deferred runs and waits for in-flight runs to
// finish or the context to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
	d.cancel()
	return nil
}

// Drain waits for all in-flight and deferred work to finish (test helper
// and shutdown aid; new submissions are still accepted).
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

func (d *Dispatcher) alreadyCompleted(ctx context.Context, runID string) bool {
	if d.idem == nil {
		return false
	}
	_, ok, err := d.idem.Get(ctx, "run:"+runID)
	if err != nil {
		return false
	}
	return ok
}

func (d *Dispatcher) markCompleted(ctx context.Context, runID string) {
	if d.idem == nil {
		return
	}
	if err := d.idem.Set(ctx, "run:"+runID, []byte{1}, d.idemTTL); err != nil {
		slog.Warn("failed to store idempotency mark", "run_id", runID, "error", err)
	}
}

func (d *Dispatcher) count(sel func(*podl.Metrics) metric.Int64Counter, kind Kind) {
	if d.metrics == nil {
		return
	}
	counter := sel(d.metrics)
	if counter == nil {
		return
	}
	counter.Add(d.baseCtx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (d *Dispatcher) countThrottle(kind Kind, outcome string) {
	if d.metrics == nil || d.metrics.RunsThrottled == nil {
		return
	}
	d.metrics.RunsThrottled.Add(d.baseCtx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
