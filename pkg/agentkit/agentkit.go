// Package agentkit is the agent-side counterpart of the orchestrator: it
// decodes stage announcements and publishes deliverables to the subject
// the engine is awaiting them on. External workers embed it so they never
// hand-build subject names or payload shapes.
package agentkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

// DecodeAnnouncement parses a stage.started payload.
func DecodeAnnouncement(data []byte) (*api.StageAnnouncement, error) {
	var ann api.StageAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("decode stage announcement: %w", err)
	}
	if ann.InstanceID == "" || ann.ResultSubject == "" {
		return nil, errors.New("decode stage announcement: missing instance id or result subject")
	}
	return &ann, nil
}

// Kit publishes deliverables for one agent over a Transport.
type Kit struct {
	tr       transport.Transport
	subjects transport.Subjects
}

// New creates a Kit for the given domain on the given transport.
func New(tr transport.Transport, domain string) *Kit {
	return &Kit{
		tr:       tr,
		subjects: transport.Subjects{Domain: domain},
	}
}

// NewRedis creates a Kit speaking Redis Pub/Sub, the fabric the shipped
// orchestrator constructors use.
func NewRedis(client *redis.Client, domain string) *Kit {
	return New(transport.NewRedisTransport(client), domain)
}

// AwaitAnnouncement blocks until a stage announcement for the given
// stage kind and instance arrives, or the timeout elapses. The
// subscription is torn down on every path.
func (k *Kit) AwaitAnnouncement(ctx context.Context, stageKind, instanceID string, timeout time.Duration) (*api.StageAnnouncement, error) {
	subject := k.subjects.StageStart(stageKind, instanceID)
	sub, err := k.tr.SubscribeOnce(ctx, subject)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sub.Drain() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return nil, errors.New("announcement subscription closed")
		}
		return DecodeAnnouncement(msg.Data)
	case <-timer.C:
		return nil, fmt.Errorf("no announcement on %s within %s", subject, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete reports a stage as done.
func (k *Kit) Complete(ctx context.Context, ann *api.StageAnnouncement, summary string) error {
	return k.deliver(ctx, ann, api.Deliverable{
		Status:  api.DeliverableComplete,
		Summary: summary,
	})
}

// CompleteWithDecision reports an approval-gate stage as done, carrying
// the verdict the engine branches on.
func (k *Kit) CompleteWithDecision(ctx context.Context, ann *api.StageAnnouncement, summary, decision string) error {
	return k.deliver(ctx, ann, api.Deliverable{
		Status:   api.DeliverableComplete,
		Summary:  summary,
		Decision: decision,
	})
}

// Block reports that the stage cannot proceed without operator input.
func (k *Kit) Block(ctx context.Context, ann *api.StageAnnouncement, summary string) error {
	return k.deliver(ctx, ann, api.Deliverable{
		Status:  api.DeliverableBlocked,
		Summary: summary,
	})
}

// Fail reports a domain failure with an agent-defined status.
func (k *Kit) Fail(ctx context.Context, ann *api.StageAnnouncement, status, summary string) error {
	if status == "" || status == api.DeliverableComplete || status == api.DeliverableBlocked {
		return fmt.Errorf("failure status must not be empty, %s or %s", api.DeliverableComplete, api.DeliverableBlocked)
	}
	return k.deliver(ctx, ann, api.Deliverable{
		Status:  status,
		Summary: summary,
	})
}

func (k *Kit) deliver(ctx context.Context, ann *api.StageAnnouncement, d api.Deliverable) error {
	data, err := d.Encode()
	if err != nil {
		return err
	}
	return k.tr.Publish(ctx, ann.ResultSubject, data)
}
