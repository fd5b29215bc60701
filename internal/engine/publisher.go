package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// eventPublisher emits lifecycle events: fire-and-forget to the
// per-event-type subject, appended to the bounded audit stream when one
// is configured, and retained on an in-memory tail for the Events query.
// Failures on either external path are logged and swallowed; they never
// abort or roll back a transition.
type eventPublisher struct {
	tr       transport.Transport
	stream   transport.EventLog
	subjects transport.Subjects
	log      *slog.Logger

	mu    sync.Mutex
	tail  []api.WorkflowEvent
	limit int
}

func newEventPublisher(tr transport.Transport, stream transport.EventLog, subjects transport.Subjects, log *slog.Logger, tailSize int) *eventPublisher {
	if tailSize <= 0 {
		tailSize = 1024
	}
	return &eventPublisher{
		tr:       tr,
		stream:   stream,
		subjects: subjects,
		log:      log,
		limit:    tailSize,
	}
}

func (p *eventPublisher) publish(ctx context.Context, ev api.WorkflowEvent) {
	p.mu.Lock()
	p.tail = append(p.tail, ev)
	if len(p.tail) > p.limit {
		p.tail = p.tail[len(p.tail)-p.limit:]
	}
	p.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("encode lifecycle event failed",
			slog.String("type", string(ev.Type)),
			slog.Any("error", err))
		return
	}

	subject := p.subjects.Event(string(ev.Type))
	if err := p.tr.Publish(ctx, subject, data); err != nil {
		p.log.Warn("publish lifecycle event failed",
			slog.String("subject", subject),
			slog.String("instance_id", ev.InstanceID),
			slog.Any("error", err))
	}

	if p.stream != nil {
		if err := p.stream.Append(ctx, data); err != nil {
			p.log.Warn("append lifecycle event to stream failed",
				slog.String("instance_id", ev.InstanceID),
				slog.Any("error", err))
		}
	}
}

// events returns the retained tail for one instance, oldest first.
func (p *eventPublisher) events(instanceID string) []api.WorkflowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []api.WorkflowEvent
	for _, ev := range p.tail {
		if ev.InstanceID == instanceID {
			out = append(out, ev)
		}
	}
	return out
}

// publishEvent builds and emits one lifecycle event for an instance.
func (o *Orchestrator) publishEvent(ctx context.Context, snap *api.WorkflowInstance, typ api.EventType, stage int, action, detail string) {
	o.pub.publish(ctx, api.WorkflowEvent{
		ID:         uuid.NewString(),
		InstanceID: snap.ID,
		Workflow:   snap.Workflow,
		Type:       typ,
		At:         time.Now().UTC(),
		Stage:      stage,
		Action:     action,
		Detail:     detail,
	})
}
