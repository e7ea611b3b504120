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

// Package wmark tracks event time progress. The watermark is a lower bound
// estimate of the latest event timestamp still to arrive; the tracker
// additionally carries the per (key, window) holds that keep the outgoing
// watermark from advancing past a pane whose output timestamp has not been
// established yet.
package wmark

import (
	"sync"
	"time"

	"github.com/rivulet-io/rivulet/pkg/partition"
)

// Watermark is the monotonically increasing event time progress signal.
type Watermark time.Time

// Initial is the watermark before any progress has been observed.
var Initial = Watermark(time.UnixMilli(-1))

func (w Watermark) String() string {
	loc, _ := time.LoadLocation("UTC")
	return time.Time(w).In(loc).Format(time.RFC3339Nano)
}

func (w Watermark) UnixMilli() int64 {
	return time.Time(w).UnixMilli()
}

func (w Watermark) Time() time.Time {
	return time.Time(w)
}

func (w Watermark) After(t time.Time) bool {
	return time.Time(w).After(t)
}

func (w Watermark) Before(t time.Time) bool {
	return time.Time(w).Before(t)
}

// Tracker holds the current input watermark of one computation and the
// output holds. The input watermark only moves forward, a regressing
// update is ignored.
type Tracker struct {
	mu      sync.RWMutex
	current Watermark
	holds   map[string]time.Time
}

// NewTracker returns a tracker at the initial watermark with no holds.
func NewTracker() *Tracker {
	return &Tracker{
		current: Initial,
		holds:   make(map[string]time.Time),
	}
}

// Advance moves the watermark forward and returns the resulting value.
// Updates behind the current watermark are dropped to keep it monotonic.
func (t *Tracker) Advance(wm time.Time) Watermark {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wm.After(time.Time(t.current)) {
		t.current = Watermark(wm)
	}
	return t.current
}

// Current returns the input watermark.
func (t *Tracker) Current() Watermark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// AddHold pins the output watermark at ts for the partition. Re-adding a
// hold for the same partition keeps the earlier of the two timestamps, the
// hold of a pane is its minimum element timestamp.
func (t *Tracker) AddHold(pid partition.ID, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := pid.String()
	if existing, ok := t.holds[k]; ok && !ts.Before(existing) {
		return
	}
	t.holds[k] = ts
}

// ReleaseHold drops the partition's hold, called when its pane is emitted
// or the window is discarded.
func (t *Tracker) ReleaseHold(pid partition.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.holds, pid.String())
}

// CurrentHold returns the minimum held timestamp across the active
// partitions. The boolean is false when no hold is present.
func (t *Tracker) CurrentHold() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var min time.Time
	found := false
	for _, ts := range t.holds {
		if !found || ts.Before(min) {
			min = ts
			found = true
		}
	}
	return min, found
}

// Output returns the watermark visible downstream: the input watermark
// capped by the earliest hold.
func (t *Tracker) Output() Watermark {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var min time.Time
	found := false
	for _, ts := range t.holds {
		if !found || ts.Before(min) {
			min = ts
			found = true
		}
	}
	if found && min.Before(time.Time(t.current)) {
		return Watermark(min)
	}
	return t.current
}
