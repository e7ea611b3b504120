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

// Package memory implements the state store in process memory. It is the
// authoritative implementation for tests and for single process runs where
// durability is provided by replaying the source.
package memory

import (
	"context"
	"sync"

	"github.com/rivulet-io/rivulet/pkg/partition"
	"github.com/rivulet-io/rivulet/pkg/state"
)

type memoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string][]byte
	lists  map[string]map[string][][]byte
	closed bool
}

var _ state.Store = (*memoryStore)(nil)

// NewStore returns an empty in memory store.
func NewStore() state.Store {
	return &memoryStore{
		values: make(map[string]map[string][]byte),
		lists:  make(map[string]map[string][][]byte),
	}
}

func (m *memoryStore) Get(_ context.Context, pid partition.ID, tag string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags, ok := m.values[pid.String()]
	if !ok {
		return nil, false, nil
	}
	v, ok := tags[tag]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *memoryStore) Put(_ context.Context, pid partition.ID, tag string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pid.String()
	if _, ok := m.values[k]; !ok {
		m.values[k] = make(map[string][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.values[k][tag] = v
	return nil
}

func (m *memoryStore) Delete(_ context.Context, pid partition.ID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags, ok := m.values[pid.String()]; ok {
		delete(tags, tag)
	}
	return nil
}

func (m *memoryStore) AppendToList(_ context.Context, pid partition.ID, tag string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pid.String()
	if _, ok := m.lists[k]; !ok {
		m.lists[k] = make(map[string][][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.lists[k][tag] = append(m.lists[k][tag], v)
	return nil
}

func (m *memoryStore) ReadList(_ context.Context, pid partition.ID, tag string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags, ok := m.lists[pid.String()]
	if !ok {
		return nil, nil
	}
	src := tags[tag]
	out := make([][]byte, len(src))
	for i, v := range src {
		c := make([]byte, len(v))
		copy(c, v)
		out[i] = c
	}
	return out, nil
}

func (m *memoryStore) ClearList(_ context.Context, pid partition.ID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags, ok := m.lists[pid.String()]; ok {
		delete(tags, tag)
	}
	return nil
}

func (m *memoryStore) PurgePartition(_ context.Context, pid partition.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, pid.String())
	delete(m.lists, pid.String())
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
