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

// Package window defines event time windows, the windower contract that
// assigns elements to windows, and the windowing strategy bundle the
// reducer executes. Assignment is a pure function of the event timestamp;
// merging strategies additionally rewrite the set of active windows.
package window

import (
	"time"

	"github.com/rivulet-io/rivulet/pkg/partition"
)

// Kind enumerates the windowing strategies.
type Kind int

const (
	Fixed Kind = iota
	Sliding
	Session
)

func (k Kind) String() string {
	switch k {
	case Fixed:
		return "Fixed"
	case Sliding:
		return "Sliding"
	case Session:
		return "Session"
	default:
		return "Unknown"
	}
}

// Windower assigns an event timestamp to one or more windows.
// Implementations must be pure and deterministic, the same timestamp always
// maps to the same windows.
type Windower interface {
	// Kind returns the window strategy.
	Kind() Kind
	// AssignWindows returns the windows the given event time belongs to.
	AssignWindows(eventTime time.Time) []*IntervalWindow
}

// Merge is one merge instruction produced by a merging windower, the
// source windows collapse into the result window.
type Merge struct {
	Sources []*IntervalWindow
	Result  *IntervalWindow
}

// MergingWindower is a Windower whose windows can grow by combining with
// each other, e.g. sessions.
type MergingWindower interface {
	Windower
	// MergeWindows inspects the active windows, sorted by start time, and
	// returns the merges to apply. Merging is transitive, a returned merge
	// may cover more than two sources.
	MergeWindows(active []*IntervalWindow) []Merge
}

// IntervalWindow is a half open [Start, End) interval over event time.
type IntervalWindow struct {
	Start time.Time
	End   time.Time
}

// NewIntervalWindow returns the window [start, end).
func NewIntervalWindow(start time.Time, end time.Time) *IntervalWindow {
	return &IntervalWindow{Start: start, End: end}
}

// StartTime returns the inclusive start of the window.
func (w *IntervalWindow) StartTime() time.Time {
	return w.Start
}

// EndTime returns the exclusive end of the window.
func (w *IntervalWindow) EndTime() time.Time {
	return w.End
}

// MaxTimestamp returns the largest timestamp that can belong to the window.
func (w *IntervalWindow) MaxTimestamp() time.Time {
	return w.End.Add(-1 * time.Millisecond)
}

// Partition returns the partition id for the window under the given slot.
func (w *IntervalWindow) Partition(slot string) partition.ID {
	return partition.ID{Start: w.Start, End: w.End, Slot: slot}
}

// Contains reports whether t falls inside the window.
func (w *IntervalWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether the two windows intersect. Back to back
// intervals do not overlap because the end is exclusive.
func (w *IntervalWindow) Overlaps(other *IntervalWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Equals compares the window bounds as instants.
func (w *IntervalWindow) Equals(other *IntervalWindow) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// Merge expands the window to cover the other window.
func (w *IntervalWindow) Merge(other *IntervalWindow) {
	if other.Start.Before(w.Start) {
		w.Start = other.Start
	}
	if other.End.After(w.End) {
		w.End = other.End
	}
}

// Expand grows the window end time, it never shrinks.
func (w *IntervalWindow) Expand(endTime time.Time) {
	if endTime.After(w.End) {
		w.End = endTime
	}
}

// Clone returns a copy of the window.
func (w *IntervalWindow) Clone() *IntervalWindow {
	return &IntervalWindow{Start: w.Start, End: w.End}
}
