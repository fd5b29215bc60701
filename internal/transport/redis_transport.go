package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport is a Transport backed by Redis Pub/Sub.
//
// Subjects map directly to Redis channels. Pub/Sub delivery is
// at-most-once per connected subscriber, which matches the engine's
// model: announcements and events are best-effort, and a deliverable
// missed during a disconnect is re-requested by the stage retry policy.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates a RedisTransport on the given client.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

var _ Transport = (*RedisTransport)(nil)

func (t *RedisTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	return t.client.Publish(ctx, subject, payload).Err()
}

// SubscribeOnce opens a Pub/Sub subscription on the subject and confirms
// it with the server before returning, so a publish issued after this
// call cannot race past the subscription.
func (t *RedisTransport) SubscribeOnce(ctx context.Context, subject string) (Subscription, error) {
	pubsub := t.client.Subscribe(ctx, subject)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	s := &redisSub{
		pubsub: pubsub,
		out:    make(chan Message, 1),
	}
	go s.forward(pubsub.Channel())
	return s, nil
}

type redisSub struct {
	pubsub *redis.PubSub
	out    chan Message
	once   sync.Once
}

func (s *redisSub) Messages() <-chan Message { return s.out }

// Drain closes the underlying Pub/Sub connection exactly once. A message
// already forwarded into the buffer stays readable from Messages.
func (s *redisSub) Drain() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSub) forward(ch <-chan *redis.Message) {
	defer close(s.out)

	msg, ok := <-ch
	if !ok {
		return
	}
	s.out <- Message{Subject: msg.Channel, Data: []byte(msg.Payload)}
	_ = s.Drain()
}

// RedisEventLog appends lifecycle events to a Redis Stream, trimmed to a
// bounded length so the audit tail never grows without limit.
type RedisEventLog struct {
	client *redis.Client
	stream string
	maxLen int64
}

// Audit consumer group created on the stream at provision time.
const eventLogGroup = "audit"

// NewRedisEventLog creates an event log on the given stream key. maxLen
// bounds the stream (default 10000 if <= 0); trimming is approximate,
// which is the cheap XADD MAXLEN ~ form.
func NewRedisEventLog(client *redis.Client, stream string, maxLen int64) *RedisEventLog {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisEventLog{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

var _ EventLog = (*RedisEventLog)(nil)

// Provision creates the stream and its audit consumer group if absent.
// Re-provisioning an existing stream is a no-op.
func (l *RedisEventLog) Provision(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, eventLogGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (l *RedisEventLog) Append(ctx context.Context, payload []byte) error {
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{"event": payload},
	}).Err()
}
