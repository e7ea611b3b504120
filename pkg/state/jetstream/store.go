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

// Package jetstream implements the state store on a NATS JetStream key
// value bucket. Partition and tag names are base64 encoded into KV safe
// key segments. Lists are kept as one encoded value per (partition, tag);
// the engine owns a partition exclusively while processing it, so the
// read modify write on append is safe.
package jetstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/rivulet-io/rivulet/pkg/partition"
	"github.com/rivulet-io/rivulet/pkg/state"
)

type jetStreamStore struct {
	kv nats.KeyValue
}

var _ state.Store = (*jetStreamStore)(nil)

// NewStore binds the state store to an existing KV bucket on the given
// JetStream context.
func NewStore(js nats.JetStreamContext, bucket string) (state.Store, error) {
	kv, err := js.KeyValue(bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to bind kv bucket %q: %w", bucket, err)
	}
	return &jetStreamStore{kv: kv}, nil
}

func seg(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func (j *jetStreamStore) valueKey(pid partition.ID, tag string) string {
	return fmt.Sprintf("%s.v.%s", seg(pid.String()), seg(tag))
}

func (j *jetStreamStore) listKey(pid partition.ID, tag string) string {
	return fmt.Sprintf("%s.l.%s", seg(pid.String()), seg(tag))
}

func (j *jetStreamStore) indexKey(pid partition.ID) string {
	return fmt.Sprintf("%s.idx", seg(pid.String()))
}

// index tracks the keys written for a partition so a purge does not have
// to scan the bucket.
type index struct {
	Keys []string `json:"keys"`
}

func (j *jetStreamStore) addToIndex(pid partition.ID, key string) error {
	idx, err := j.readIndex(pid)
	if err != nil {
		return err
	}
	for _, k := range idx.Keys {
		if k == key {
			return nil
		}
	}
	idx.Keys = append(idx.Keys, key)
	b, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode partition index: %w", err)
	}
	if _, err := j.kv.Put(j.indexKey(pid), b); err != nil {
		return fmt.Errorf("failed to write partition index: %w", err)
	}
	return nil
}

func (j *jetStreamStore) readIndex(pid partition.ID) (*index, error) {
	entry, err := j.kv.Get(j.indexKey(pid))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return &index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read partition index: %w", err)
	}
	idx := &index{}
	if err := json.Unmarshal(entry.Value(), idx); err != nil {
		return nil, fmt.Errorf("failed to decode partition index: %w", err)
	}
	return idx, nil
}

func (j *jetStreamStore) Get(_ context.Context, pid partition.ID, tag string) ([]byte, bool, error) {
	entry, err := j.kv.Get(j.valueKey(pid, tag))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s/%s from kv: %w", pid, tag, err)
	}
	return entry.Value(), true, nil
}

func (j *jetStreamStore) Put(_ context.Context, pid partition.ID, tag string, value []byte) error {
	key := j.valueKey(pid, tag)
	if _, err := j.kv.Put(key, value); err != nil {
		return fmt.Errorf("failed to write %s/%s to kv: %w", pid, tag, err)
	}
	return j.addToIndex(pid, key)
}

func (j *jetStreamStore) Delete(_ context.Context, pid partition.ID, tag string) error {
	err := j.kv.Delete(j.valueKey(pid, tag))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s/%s from kv: %w", pid, tag, err)
	}
	return nil
}

func (j *jetStreamStore) AppendToList(ctx context.Context, pid partition.ID, tag string, value []byte) error {
	values, err := j.ReadList(ctx, pid, tag)
	if err != nil {
		return err
	}
	values = append(values, value)
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode list %s/%s: %w", pid, tag, err)
	}
	key := j.listKey(pid, tag)
	if _, err := j.kv.Put(key, b); err != nil {
		return fmt.Errorf("failed to write list %s/%s to kv: %w", pid, tag, err)
	}
	return j.addToIndex(pid, key)
}

func (j *jetStreamStore) ReadList(_ context.Context, pid partition.ID, tag string) ([][]byte, error) {
	entry, err := j.kv.Get(j.listKey(pid, tag))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s/%s from kv: %w", pid, tag, err)
	}
	var values [][]byte
	if err := json.Unmarshal(entry.Value(), &values); err != nil {
		return nil, fmt.Errorf("failed to decode list %s/%s: %w", pid, tag, err)
	}
	return values, nil
}

func (j *jetStreamStore) ClearList(_ context.Context, pid partition.ID, tag string) error {
	err := j.kv.Delete(j.listKey(pid, tag))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear list %s/%s in kv: %w", pid, tag, err)
	}
	return nil
}

func (j *jetStreamStore) PurgePartition(_ context.Context, pid partition.ID) error {
	idx, err := j.readIndex(pid)
	if err != nil {
		return err
	}
	for _, key := range idx.Keys {
		if err := j.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("failed to purge key %q of partition %s: %w", key, pid, err)
		}
	}
	err = j.kv.Delete(j.indexKey(pid))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to purge index of partition %s: %w", pid, err)
	}
	return nil
}

func (j *jetStreamStore) Close() error {
	return nil
}
