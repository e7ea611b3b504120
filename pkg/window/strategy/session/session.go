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

// Package session implements session windows, the merging window strategy.
// Each element initially opens a proto window [t, t+gap); any two active
// windows whose intervals touch or overlap are merged, transitively, so a
// session keeps growing while elements keep arriving within the inactivity
// gap of each other.
package session

import (
	"fmt"
	"time"

	"github.com/rivulet-io/rivulet/pkg/window"
)

// Session windows grow by merging; two windows merge when the gap between
// them is smaller than the configured inactivity gap.
type Session struct {
	// gap is the inactivity duration after which a session closes.
	gap time.Duration
}

var _ window.Windower = (*Session)(nil)
var _ window.MergingWindower = (*Session)(nil)
var _ window.BlobWindower = (*Session)(nil)

func init() {
	window.RegisterWindower(window.Session, func(_, _, gap time.Duration) (window.Windower, error) {
		return NewSession(gap)
	})
}

// NewSession returns a session windower with the given inactivity gap. A
// non-positive gap is a configuration error.
func NewSession(gap time.Duration) (*Session, error) {
	if gap <= 0 {
		return nil, fmt.Errorf("session window gap must be positive, got %v", gap)
	}
	return &Session{gap: gap}, nil
}

// Kind returns window.Session.
func (s *Session) Kind() window.Kind {
	return window.Session
}

// Gap returns the inactivity gap.
func (s *Session) Gap() time.Duration {
	return s.gap
}

// Durations describes the windower for the strategy blob.
func (s *Session) Durations() (time.Duration, time.Duration, time.Duration) {
	return 0, 0, s.gap
}

// AssignWindows opens the proto window [t, t+gap) for the element. Merging
// with other active windows happens in MergeWindows.
func (s *Session) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	return []*window.IntervalWindow{
		window.NewIntervalWindow(eventTime, eventTime.Add(s.gap)),
	}
}

// MergeWindows returns the merges to apply to the active window set. The
// input is sorted by start time, so a single forward scan finds every
// transitive run of overlapping windows. Windows whose intervals merely
// touch ([a,b) and [b,c)) still merge because each window already carries
// the gap extension from assignment.
func (s *Session) MergeWindows(active []*window.IntervalWindow) []window.Merge {
	merges := make([]window.Merge, 0)
	if len(active) < 2 {
		return merges
	}

	sources := []*window.IntervalWindow{active[0]}
	result := active[0].Clone()
	for _, w := range active[1:] {
		// touching counts as overlap for sessions, the gap extension is
		// already part of the interval.
		if !w.Start.After(result.End) {
			sources = append(sources, w)
			result.Merge(w)
			continue
		}
		if len(sources) > 1 {
			merges = append(merges, window.Merge{Sources: sources, Result: result})
		}
		sources = []*window.IntervalWindow{w}
		result = w.Clone()
	}
	if len(sources) > 1 {
		merges = append(merges, window.Merge{Sources: sources, Result: result})
	}
	return merges
}
