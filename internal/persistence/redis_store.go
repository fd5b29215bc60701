package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/okarv/stagehand/pkg/api"
)

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>            => JSON-encoded WorkflowInstance
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:wf:<workflow>    => SET of instance IDs for a given pipeline
//	<prefix>idx:status:<status>  => SET of instance IDs for a given status
//
// Status sets are kept exact on every save (the id is removed from the
// other status sets in the same pipeline), because LoadInFlight depends
// on them at recovery time. List results are still filtered by payload as
// a belt-and-braces check.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

var allStatuses = []api.Status{
	api.StatusPending,
	api.StatusRunning,
	api.StatusBlocked,
	api.StatusCompleted,
	api.StatusFailed,
}

// NewRedisInstanceStore creates a RedisInstanceStore.
// prefix is optional but recommended (e.g. "stagehand:").
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "stagehand:"
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisInstanceStore) keyInstance(id string) string {
	return s.prefix + "inst:" + id
}

func (s *RedisInstanceStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisInstanceStore) keyWorkflow(name string) string {
	return s.prefix + "idx:wf:" + name
}

func (s *RedisInstanceStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyWorkflow(inst.Workflow), inst.ID)
	for _, st := range allStatuses {
		if st == inst.Status {
			pipe.SAdd(ctx, s.keyStatus(st), inst.ID)
		} else {
			pipe.SRem(ctx, s.keyStatus(st), inst.ID)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}

	var inst api.WorkflowInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *RedisInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.Workflow != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyWorkflow(filter.Workflow),
			s.keyStatus(filter.Status),
		).Result()
	case filter.Workflow != "":
		ids, err = s.client.SMembers(ctx, s.keyWorkflow(filter.Workflow)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowInstance{}, nil
		}
		return nil, err
	}

	instances, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Filter by payload in case an index set lagged a concurrent save.
	result := instances[:0]
	for _, inst := range instances {
		if filter.Workflow != "" && inst.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		result = append(result, inst)
	}
	return result, nil
}

func (s *RedisInstanceStore) LoadInFlight() ([]*api.WorkflowInstance, error) {
	ctx := context.Background()

	ids, err := s.client.SUnion(ctx,
		s.keyStatus(api.StatusRunning),
		s.keyStatus(api.StatusBlocked),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	instances, err := s.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := instances[:0]
	for _, inst := range instances {
		if inst.Status.InFlight() {
			result = append(result, inst)
		}
	}
	return result, nil
}

func (s *RedisInstanceStore) fetch(ctx context.Context, ids []string) ([]*api.WorkflowInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.WorkflowInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var inst api.WorkflowInstance
		if err := json.Unmarshal(data, &inst); err != nil {
			return nil, err
		}
		instances = append(instances, &inst)
	}
	return instances, nil
}
