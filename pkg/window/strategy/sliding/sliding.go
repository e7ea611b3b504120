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

// Package sliding implements sliding windows. A sliding window is defined
// by a length and a slide period smaller than or equal to the length, so an
// element can belong to multiple overlapping windows.
package sliding

import (
	"fmt"
	"time"

	"github.com/rivulet-io/rivulet/pkg/window"
)

// Sliding assigns each event time to every overlapping aligned window.
type Sliding struct {
	// length is the temporal length of each window.
	length time.Duration
	// slide is the period by which consecutive windows are offset.
	slide time.Duration
}

var _ window.Windower = (*Sliding)(nil)
var _ window.BlobWindower = (*Sliding)(nil)

func init() {
	window.RegisterWindower(window.Sliding, func(length, slide, _ time.Duration) (window.Windower, error) {
		return NewSliding(length, slide)
	})
}

// NewSliding returns a sliding windower. A non-positive length or slide, or
// a slide larger than the length, is a configuration error.
func NewSliding(length, slide time.Duration) (*Sliding, error) {
	if length <= 0 {
		return nil, fmt.Errorf("sliding window length must be positive, got %v", length)
	}
	if slide <= 0 {
		return nil, fmt.Errorf("sliding window slide must be positive, got %v", slide)
	}
	if slide > length {
		return nil, fmt.Errorf("sliding window slide %v must not exceed length %v", slide, length)
	}
	return &Sliding{length: length, slide: slide}, nil
}

// Kind returns window.Sliding.
func (s *Sliding) Kind() window.Kind {
	return window.Sliding
}

// Length returns the window length.
func (s *Sliding) Length() time.Duration {
	return s.length
}

// Slide returns the slide period.
func (s *Sliding) Slide() time.Duration {
	return s.slide
}

// Durations describes the windower for the strategy blob.
func (s *Sliding) Durations() (time.Duration, time.Duration, time.Duration) {
	return s.length, s.slide, 0
}

// AssignWindows returns the set of windows that contain eventTime, earliest
// start first.
func (s *Sliding) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	// use the highest integer multiple of the slide which is not after the
	// event time as the start of the latest window, then walk backwards one
	// slide at a time while the window still contains the element. Windows
	// are left inclusive and right exclusive, an element on a boundary goes
	// to the window to the right of the boundary.
	startTime := time.UnixMilli((eventTime.UnixMilli() / s.slide.Milliseconds()) * s.slide.Milliseconds()).In(eventTime.Location())
	endTime := startTime.Add(s.length)

	windows := make([]*window.IntervalWindow, 0)
	for !startTime.After(eventTime) && endTime.After(eventTime) {
		windows = append(windows, window.NewIntervalWindow(startTime, endTime))
		startTime = startTime.Add(-s.slide)
		endTime = endTime.Add(-s.slide)
	}

	// reverse so the earliest window comes first.
	for i, j := 0, len(windows)-1; i < j; i, j = i+1, j-1 {
		windows[i], windows[j] = windows[j], windows[i]
	}
	return windows
}
