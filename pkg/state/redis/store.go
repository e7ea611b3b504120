/*
Copyright 2024 The Rivulet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redis implements the state store on Redis. Tags of a partition
// live in one hash, lists in one Redis list per (partition, tag), and the
// list tags of a partition are tracked in a set so a purge can remove
// everything without scanning the keyspace.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rivulet-io/rivulet/pkg/partition"
	"github.com/rivulet-io/rivulet/pkg/state"
)

type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ state.Store = (*redisStore)(nil)

// NewStore returns a state store backed by the given Redis client. The
// prefix namespaces the keys so several computations can share one Redis.
func NewStore(client redis.UniversalClient, prefix string) state.Store {
	return &redisStore{client: client, keyPrefix: prefix}
}

func (r *redisStore) hashKey(pid partition.ID) string {
	return fmt.Sprintf("%s:{%s}:v", r.keyPrefix, pid.String())
}

func (r *redisStore) listKey(pid partition.ID, tag string) string {
	return fmt.Sprintf("%s:{%s}:l:%s", r.keyPrefix, pid.String(), tag)
}

func (r *redisStore) listTagsKey(pid partition.ID) string {
	return fmt.Sprintf("%s:{%s}:lt", r.keyPrefix, pid.String())
}

func (r *redisStore) Get(ctx context.Context, pid partition.ID, tag string) ([]byte, bool, error) {
	v, err := r.client.HGet(ctx, r.hashKey(pid), tag).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s from redis: %w", pid, tag, err)
	}
	return v, true, nil
}

func (r *redisStore) Put(ctx context.Context, pid partition.ID, tag string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(pid), tag, value).Err(); err != nil {
		return fmt.Errorf("failed to write %s/%s to redis: %w", pid, tag, err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, pid partition.ID, tag string) error {
	if err := r.client.HDel(ctx, r.hashKey(pid), tag).Err(); err != nil {
		return fmt.Errorf("failed to delete %s/%s from redis: %w", pid, tag, err)
	}
	return nil
}

func (r *redisStore) AppendToList(ctx context.Context, pid partition.ID, tag string, value []byte) error {
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.listKey(pid, tag), value)
	pipe.SAdd(ctx, r.listTagsKey(pid), tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to %s/%s in redis: %w", pid, tag, err)
	}
	return nil
}

func (r *redisStore) ReadList(ctx context.Context, pid partition.ID, tag string) ([][]byte, error) {
	values, err := r.client.LRange(ctx, r.listKey(pid, tag), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s/%s from redis: %w", pid, tag, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *redisStore) ClearList(ctx context.Context, pid partition.ID, tag string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.listKey(pid, tag))
	pipe.SRem(ctx, r.listTagsKey(pid), tag)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear list %s/%s in redis: %w", pid, tag, err)
	}
	return nil
}

func (r *redisStore) PurgePartition(ctx context.Context, pid partition.ID) error {
	tags, err := r.client.SMembers(ctx, r.listTagsKey(pid)).Result()
	if err != nil {
		return fmt.Errorf("failed to list partition %s list tags in redis: %w", pid, err)
	}
	keys := make([]string, 0, len(tags)+2)
	for _, tag := range tags {
		keys = append(keys, r.listKey(pid, tag))
	}
	keys = append(keys, r.hashKey(pid), r.listTagsKey(pid))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to purge partition %s in redis: %w", pid, err)
	}
	return nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
