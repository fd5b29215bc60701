package transport

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/okarv/stagehand/internal/testutil"
)

type RedisTransportSuite struct {
	suite.Suite
	client *redis.Client
}

func TestRedisTransportSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	suite.Run(t, new(RedisTransportSuite))
}

func (s *RedisTransportSuite) SetupSuite() {
	addr := testutil.RedisAddr(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Require().NoError(s.client.Ping(ctx).Err())
}

func (s *RedisTransportSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *RedisTransportSuite) TestPublishAfterSubscribeIsReceived() {
	tr := NewRedisTransport(s.client)
	ctx := context.Background()

	sub, err := tr.SubscribeOnce(ctx, "transport-test.deliverables.qa-agent.qa.req-1")
	s.Require().NoError(err)

	// SubscribeOnce confirmed the subscription with the server, so this
	// publish cannot be lost.
	s.Require().NoError(tr.Publish(ctx, "transport-test.deliverables.qa-agent.qa.req-1", []byte("payload")))

	select {
	case msg, ok := <-sub.Messages():
		s.Require().True(ok)
		s.Equal([]byte("payload"), msg.Data)
	case <-time.After(5 * time.Second):
		s.FailNow("deliverable did not arrive")
	}
}

func (s *RedisTransportSuite) TestDrainIsIdempotent() {
	tr := NewRedisTransport(s.client)

	sub, err := tr.SubscribeOnce(context.Background(), "transport-test.drain")
	s.Require().NoError(err)

	s.Require().NoError(sub.Drain())
	s.NoError(sub.Drain())

	// The message channel closes once the connection is gone.
	select {
	case _, ok := <-sub.Messages():
		s.False(ok)
	case <-time.After(5 * time.Second):
		s.FailNow("messages channel did not close after drain")
	}
}

func (s *RedisTransportSuite) TestEventLogAppend() {
	ctx := context.Background()
	log := NewRedisEventLog(s.client, "transport-test:orchestration:events", 100)

	s.Require().NoError(log.Provision(ctx))
	// Re-provisioning must tolerate the existing group.
	s.Require().NoError(log.Provision(ctx))

	s.Require().NoError(log.Append(ctx, []byte(`{"type":"workflow.started"}`)))
	s.Require().NoError(log.Append(ctx, []byte(`{"type":"workflow.completed"}`)))

	n, err := s.client.XLen(ctx, "transport-test:orchestration:events").Result()
	s.Require().NoError(err)
	s.GreaterOrEqual(n, int64(2))
}

func TestRedisEventLogDefaultMaxLen(t *testing.T) {
	log := NewRedisEventLog(nil, "s", 0)
	require.Equal(t, int64(10000), log.maxLen)
}
