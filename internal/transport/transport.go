// Package transport abstracts the pub/sub fabric the orchestrator and the
// external agent fleet communicate over. The engine consumes it through
// two narrow contracts: fire-and-forget Publish for announcements and
// lifecycle events, and SubscribeOnce for awaiting a single deliverable.
package transport

import "context"

// Message is one delivery on a subject.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription yields at most one message and must be torn down with
// Drain regardless of whether a message arrived.
type Subscription interface {
	// Messages returns the channel the single message is delivered on.
	// The channel is closed after delivery or after Drain. A message that
	// arrived before Drain stays readable from the channel buffer.
	Messages() <-chan Message

	// Drain gracefully tears the subscription down. It is idempotent and
	// safe to call concurrently with message arrival.
	Drain() error
}

// Transport is the pub/sub contract consumed by the engine.
//
// Publish is fire-and-forget: delivery guarantees are the backend's
// (at-least-once for durable backends, at-most-once in memory).
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	SubscribeOnce(ctx context.Context, subject string) (Subscription, error)
}

// EventLog is the append-only, bounded stream lifecycle events are
// retained on for external audit. Append failures are the caller's to
// log; they must never abort a state transition.
type EventLog interface {
	// Provision creates the stream if it does not exist. It is idempotent
	// and called once at engine startup.
	Provision(ctx context.Context) error

	Append(ctx context.Context, payload []byte) error
}
