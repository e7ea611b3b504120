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

// Package sideinput provides versioned broadcast views keyed by window,
// the pattern behind globally computed lookup sets (e.g. a per window set
// of flagged keys) consumed read only by the main computation. The
// accessor is injected into the processing context, never reached through
// ambient globals, and each window sees exactly one immutable snapshot.
package sideinput

import (
	"sync"
	"time"
)

// Snapshot is one immutable version of the side input for a window.
type Snapshot struct {
	// WindowStart identifies the window the snapshot belongs to.
	WindowStart time.Time
	// Version increments every time the producer republishes the window's
	// view.
	Version int64
	// Value is the opaque encoded view.
	Value []byte
}

// Accessor is the read only view handed to the processing path.
type Accessor interface {
	// Value returns the current snapshot for the window starting at
	// windowStart; the boolean is false when no snapshot was published
	// yet.
	Value(windowStart time.Time) (*Snapshot, bool)
}

// Broadcast is the producer side: one writer publishes snapshots, any
// number of readers access them through the Accessor view.
type Broadcast struct {
	mu        sync.RWMutex
	snapshots map[int64]*Snapshot
}

var _ Accessor = (*Broadcast)(nil)

// NewBroadcast returns an empty broadcast view.
func NewBroadcast() *Broadcast {
	return &Broadcast{
		snapshots: make(map[int64]*Snapshot),
	}
}

// Publish installs the value as the next version of the window's view.
func (b *Broadcast) Publish(windowStart time.Time, value []byte) *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := windowStart.UnixMilli()
	var version int64
	if prev, ok := b.snapshots[k]; ok {
		version = prev.Version + 1
	}
	snap := &Snapshot{
		WindowStart: windowStart,
		Version:     version,
		Value:       value,
	}
	b.snapshots[k] = snap
	return snap
}

// Value returns the window's current snapshot.
func (b *Broadcast) Value(windowStart time.Time) (*Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snapshots[windowStart.UnixMilli()]
	return snap, ok
}

// Drop discards the window's snapshots, called when the window is garbage
// collected.
func (b *Broadcast) Drop(windowStart time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snapshots, windowStart.UnixMilli())
}
