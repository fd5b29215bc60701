// Package waiter turns "a deliverable will eventually arrive on subject S,
// or it won't" into a blocking call with a hard deadline and guaranteed
// subscription teardown.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

// ErrAwaitTimeout is returned when the stage's SLA deadline elapses before
// a deliverable arrives. Timeout is a first-class outcome: callers route
// it through the same failure policy as a domain failure, but it stays
// distinguishable from transport and decode errors.
var ErrAwaitTimeout = errors.New("deliverable await timed out")

// TransportError wraps a pub/sub failure during subscribe or receive.
type TransportError struct {
	Op      string
	Subject string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Subject, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a malformed deliverable payload. It is distinct from
// ErrAwaitTimeout and TransportError so callers can apply different retry
// policy per cause.
type DecodeError struct {
	Subject string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode deliverable on %s: %v", e.Subject, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is a deliverable decode failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Waiter awaits single deliverables over a Transport.
type Waiter struct {
	transport transport.Transport
}

// New creates a Waiter on the given transport.
func New(t transport.Transport) *Waiter {
	return &Waiter{transport: t}
}

// Subscribe opens the subscription for a deliverable without waiting on
// it. The split from Wait lets the engine subscribe before announcing a
// stage, so an agent that answers instantly cannot slip past the
// subscription. On recovery the engine re-subscribes without announcing
// at all.
//
// The returned pending wait must be finished with Wait or Cancel.
func (w *Waiter) Subscribe(ctx context.Context, subject string) (*PendingDeliverable, error) {
	sub, err := w.transport.SubscribeOnce(ctx, subject)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", Subject: subject, Err: err}
	}
	return &PendingDeliverable{subject: subject, sub: sub}, nil
}

// Await is the one-shot form: subscribe, then wait with the given
// timeout.
func (w *Waiter) Await(ctx context.Context, subject string, timeout time.Duration) (*api.Deliverable, error) {
	pending, err := w.Subscribe(ctx, subject)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx, timeout)
}

// PendingDeliverable is an open subscription awaiting its single message.
type PendingDeliverable struct {
	subject string
	sub     transport.Subscription
	once    sync.Once
}

// teardown drains the subscription exactly once. It is invoked from the
// success path, the timer path, and Cancel, any of which may race.
func (p *PendingDeliverable) teardown() {
	p.once.Do(func() {
		_ = p.sub.Drain()
	})
}

// Cancel tears the subscription down without waiting. Safe to call after
// Wait; the teardown runs once either way.
func (p *PendingDeliverable) Cancel() {
	p.teardown()
}

// Wait blocks until the deliverable arrives, the timeout elapses, or ctx
// is cancelled. The subscription is torn down before Wait returns, on
// every path.
func (p *PendingDeliverable) Wait(ctx context.Context, timeout time.Duration) (*api.Deliverable, error) {
	defer p.teardown()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-p.sub.Messages():
		p.teardown()
		if !ok {
			return nil, &TransportError{Op: "receive", Subject: p.subject, Err: errors.New("subscription closed")}
		}
		return p.decode(msg.Data)

	case <-timer.C:
		// Drain first, then re-check: a message that arrived concurrently
		// with the timer firing is still buffered on the channel and must
		// win over the timeout.
		p.teardown()
		select {
		case msg, ok := <-p.sub.Messages():
			if ok {
				return p.decode(msg.Data)
			}
		default:
		}
		return nil, ErrAwaitTimeout

	case <-ctx.Done():
		p.teardown()
		return nil, ctx.Err()
	}
}

func (p *PendingDeliverable) decode(data []byte) (*api.Deliverable, error) {
	d, err := api.DecodeDeliverable(data)
	if err != nil {
		return nil, &DecodeError{Subject: p.subject, Err: err}
	}
	return d, nil
}
