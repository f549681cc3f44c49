// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"errors"
)

// ErrMalformed marks a payload that can never be processed: a caller bug,
// not a transient condition. Subscribers must terminate delivery instead
// of requeueing when a handler returns an error wrapping it.
var ErrMalformed = errors.New("malformed event payload")

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the run ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishBatch sends several messages to the same subject. Used by
	// fan-out and the heartbeat sweep; best-effort, returns the first
	// error encountered after attempting every message.
	PublishBatch(ctx context.Context, subject string, msgs [][]byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the engine's trigger surfaces.
const (
	// SubjectAgentThink wakes a single agent: one think cycle.
	SubjectAgentThink = "agents.think"

	// SubjectProjectPlanning runs a full ordered planning pass for a project.
	SubjectProjectPlanning = "agents.planning"
)
