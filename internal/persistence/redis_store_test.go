package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/okarv/stagehand/internal/testutil"
	"github.com/okarv/stagehand/pkg/api"
)

type RedisStoreSuite struct {
	suite.Suite
	client *redis.Client
	seq    int
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	addr := testutil.RedisAddr(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Require().NoError(s.client.Ping(ctx).Err())
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// newStore returns a store under a fresh key prefix, so tests sharing the
// container never see each other's instances.
func (s *RedisStoreSuite) newStore() *RedisInstanceStore {
	s.seq++
	return NewRedisInstanceStore(s.client, fmt.Sprintf("storetest:%d:", s.seq))
}

func (s *RedisStoreSuite) TestContract() {
	exerciseInstanceStore(s.T(), s.newStore())
}

func (s *RedisStoreSuite) TestStatusIndexFollowsTransitions() {
	store := s.newStore()

	inst := sampleInstance("req-1", api.StatusRunning)
	s.Require().NoError(store.SaveInstance(inst))

	// Walk the instance through its lifecycle and confirm the status
	// index never returns it under a stale status.
	for _, status := range []api.Status{api.StatusBlocked, api.StatusRunning, api.StatusCompleted} {
		inst.Status = status
		s.Require().NoError(store.SaveInstance(inst))

		got, err := store.ListInstances(InstanceFilter{Status: status})
		s.Require().NoError(err)
		s.Require().Len(got, 1)

		for _, other := range []api.Status{api.StatusRunning, api.StatusBlocked, api.StatusCompleted} {
			if other == status {
				continue
			}
			stale, err := store.ListInstances(InstanceFilter{Status: other})
			s.Require().NoError(err)
			s.Empty(stale)
		}
	}

	// Completed means gone from the recovery scan.
	inFlight, err := store.LoadInFlight()
	s.Require().NoError(err)
	s.Empty(inFlight)
}

func (s *RedisStoreSuite) TestDefaultPrefix() {
	store := NewRedisInstanceStore(s.client, "")
	s.Equal("stagehand:inst:req-1", store.keyInstance("req-1"))
}
