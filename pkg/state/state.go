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

// Package state defines the durable per (key, window) state contract the
// reducer runs against. Values are addressed by (partition, tag), where
// the tag namespaces the different pieces of window state (buffered
// elements, combine accumulator, trigger state, pane bookkeeping). Raw
// element buffers use the append-only list operations so unbounded panes
// never require a read-modify-write on the hot path.
package state

import (
	"context"
	"fmt"

	"github.com/rivulet-io/rivulet/pkg/partition"
)

// Store is the durable backend. Implementations must serialize access per
// partition externally, the engine guarantees a partition is owned by one
// unit of work at a time.
type Store interface {
	// Get returns the value under (pid, tag); the boolean is false when the
	// tag is absent.
	Get(ctx context.Context, pid partition.ID, tag string) ([]byte, bool, error)
	// Put writes the value under (pid, tag).
	Put(ctx context.Context, pid partition.ID, tag string, value []byte) error
	// Delete removes the tag.
	Delete(ctx context.Context, pid partition.ID, tag string) error
	// AppendToList appends one value to the list under (pid, tag).
	AppendToList(ctx context.Context, pid partition.ID, tag string, value []byte) error
	// ReadList returns the list under (pid, tag) in append order.
	ReadList(ctx context.Context, pid partition.ID, tag string) ([][]byte, error)
	// ClearList removes the list.
	ClearList(ctx context.Context, pid partition.ID, tag string) error
	// PurgePartition removes every tag and list of the partition, used at
	// garbage collection time.
	PurgePartition(ctx context.Context, pid partition.ID) error
	// Close releases the backend.
	Close() error
}

// UnitOfWork overlays a Store with buffered writes. Reads observe the
// buffered writes of the same unit (read your writes); nothing reaches the
// backend until Commit, and Abandon discards everything, making each
// firing all or nothing.
type UnitOfWork struct {
	// ID identifies the unit of work for logs and metrics.
	ID    string
	store Store

	puts    map[string]map[string][]byte
	deletes map[string]map[string]struct{}
	appends map[string]map[string][][]byte
	clears  map[string]map[string]struct{}
	purges  map[string]partition.ID
	pids    map[string]partition.ID
}

// NewUnitOfWork opens a buffered unit of work over the store.
func NewUnitOfWork(id string, store Store) *UnitOfWork {
	return &UnitOfWork{
		ID:      id,
		store:   store,
		puts:    make(map[string]map[string][]byte),
		deletes: make(map[string]map[string]struct{}),
		appends: make(map[string]map[string][][]byte),
		clears:  make(map[string]map[string]struct{}),
		purges:  make(map[string]partition.ID),
		pids:    make(map[string]partition.ID),
	}
}

func (u *UnitOfWork) key(pid partition.ID) string {
	k := pid.String()
	u.pids[k] = pid
	return k
}

// Get reads (pid, tag), observing this unit's own writes first. A put made
// after a purge of the same partition is visible, the purge only hides the
// committed backend state.
func (u *UnitOfWork) Get(ctx context.Context, pid partition.ID, tag string) ([]byte, bool, error) {
	k := u.key(pid)
	if tags, ok := u.puts[k]; ok {
		if v, ok := tags[tag]; ok {
			return v, true, nil
		}
	}
	if _, purged := u.purges[k]; purged {
		return nil, false, nil
	}
	if tags, ok := u.deletes[k]; ok {
		if _, ok := tags[tag]; ok {
			return nil, false, nil
		}
	}
	return u.store.Get(ctx, pid, tag)
}

// Put buffers a write of (pid, tag).
func (u *UnitOfWork) Put(pid partition.ID, tag string, value []byte) {
	k := u.key(pid)
	if tags, ok := u.deletes[k]; ok {
		delete(tags, tag)
	}
	if _, ok := u.puts[k]; !ok {
		u.puts[k] = make(map[string][]byte)
	}
	u.puts[k][tag] = value
}

// Delete buffers a removal of (pid, tag).
func (u *UnitOfWork) Delete(pid partition.ID, tag string) {
	k := u.key(pid)
	if tags, ok := u.puts[k]; ok {
		delete(tags, tag)
	}
	if _, ok := u.deletes[k]; !ok {
		u.deletes[k] = make(map[string]struct{})
	}
	u.deletes[k][tag] = struct{}{}
}

// AppendToList buffers an append to the list under (pid, tag).
func (u *UnitOfWork) AppendToList(pid partition.ID, tag string, value []byte) {
	k := u.key(pid)
	if _, ok := u.appends[k]; !ok {
		u.appends[k] = make(map[string][][]byte)
	}
	u.appends[k][tag] = append(u.appends[k][tag], value)
}

// ReadList returns the committed list plus this unit's buffered appends,
// unless the list was cleared within this unit.
func (u *UnitOfWork) ReadList(ctx context.Context, pid partition.ID, tag string) ([][]byte, error) {
	k := u.key(pid)
	var base [][]byte
	cleared := false
	if _, purged := u.purges[k]; purged {
		cleared = true
	}
	if tags, ok := u.clears[k]; ok {
		if _, ok := tags[tag]; ok {
			cleared = true
		}
	}
	if !cleared {
		committed, err := u.store.ReadList(ctx, pid, tag)
		if err != nil {
			return nil, err
		}
		base = committed
	}
	if tags, ok := u.appends[k]; ok {
		base = append(base, tags[tag]...)
	}
	return base, nil
}

// ClearList buffers a removal of the list under (pid, tag), including this
// unit's own pending appends.
func (u *UnitOfWork) ClearList(pid partition.ID, tag string) {
	k := u.key(pid)
	if tags, ok := u.appends[k]; ok {
		delete(tags, tag)
	}
	if _, ok := u.clears[k]; !ok {
		u.clears[k] = make(map[string]struct{})
	}
	u.clears[k][tag] = struct{}{}
}

// PurgePartition buffers an unconditional removal of the whole partition,
// dropping any earlier buffered writes to it.
func (u *UnitOfWork) PurgePartition(pid partition.ID) {
	k := u.key(pid)
	delete(u.puts, k)
	delete(u.deletes, k)
	delete(u.appends, k)
	delete(u.clears, k)
	u.purges[k] = pid
}

// Commit flushes the buffered mutations to the backend. Purges run first
// so a partition recreated within the same unit is not lost; clears run
// before appends for the same reason.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	for _, pid := range u.purges {
		if err := u.store.PurgePartition(ctx, pid); err != nil {
			return fmt.Errorf("uow %s: failed to purge partition %s: %w", u.ID, pid, err)
		}
	}
	for k, tags := range u.clears {
		for tag := range tags {
			if err := u.store.ClearList(ctx, u.pids[k], tag); err != nil {
				return fmt.Errorf("uow %s: failed to clear list %s/%s: %w", u.ID, k, tag, err)
			}
		}
	}
	for k, tags := range u.deletes {
		for tag := range tags {
			if err := u.store.Delete(ctx, u.pids[k], tag); err != nil {
				return fmt.Errorf("uow %s: failed to delete %s/%s: %w", u.ID, k, tag, err)
			}
		}
	}
	for k, tags := range u.puts {
		for tag, v := range tags {
			if err := u.store.Put(ctx, u.pids[k], tag, v); err != nil {
				return fmt.Errorf("uow %s: failed to put %s/%s: %w", u.ID, k, tag, err)
			}
		}
	}
	for k, tags := range u.appends {
		for tag, values := range tags {
			for _, v := range values {
				if err := u.store.AppendToList(ctx, u.pids[k], tag, v); err != nil {
					return fmt.Errorf("uow %s: failed to append %s/%s: %w", u.ID, k, tag, err)
				}
			}
		}
	}
	u.reset()
	return nil
}

// Abandon discards every buffered mutation without touching the backend.
func (u *UnitOfWork) Abandon() {
	u.reset()
}

func (u *UnitOfWork) reset() {
	u.puts = make(map[string]map[string][]byte)
	u.deletes = make(map[string]map[string]struct{})
	u.appends = make(map[string]map[string][][]byte)
	u.clears = make(map[string]map[string]struct{})
	u.purges = make(map[string]partition.ID)
	u.pids = make(map[string]partition.ID)
}
