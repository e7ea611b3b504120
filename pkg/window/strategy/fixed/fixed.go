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

// Package fixed implements fixed (tumbling) windows. Fixed windows are
// defined by a static length and are aligned, every window applies across
// all the data for the corresponding period of time. An element belongs to
// exactly one fixed window.
package fixed

import (
	"fmt"
	"time"

	"github.com/rivulet-io/rivulet/pkg/window"
)

// Fixed assigns each event time to the single aligned window of its length.
type Fixed struct {
	// length is the temporal length of the window.
	length time.Duration
}

var _ window.Windower = (*Fixed)(nil)
var _ window.BlobWindower = (*Fixed)(nil)

func init() {
	window.RegisterWindower(window.Fixed, func(length, _, _ time.Duration) (window.Windower, error) {
		return NewFixed(length)
	})
}

// NewFixed returns a fixed windower of the given length. A non-positive
// length is a configuration error.
func NewFixed(length time.Duration) (*Fixed, error) {
	if length <= 0 {
		return nil, fmt.Errorf("fixed window length must be positive, got %v", length)
	}
	return &Fixed{length: length}, nil
}

// Kind returns window.Fixed.
func (f *Fixed) Kind() window.Kind {
	return window.Fixed
}

// Length returns the window length.
func (f *Fixed) Length() time.Duration {
	return f.length
}

// Durations describes the windower for the strategy blob.
func (f *Fixed) Durations() (time.Duration, time.Duration, time.Duration) {
	return f.length, 0, 0
}

// AssignWindows assigns the single window containing eventTime.
// Assignment follows a left inclusive and right exclusive principle. Since
// we truncate here, any element on the boundary automatically falls into
// the window to the right of the boundary.
func (f *Fixed) AssignWindows(eventTime time.Time) []*window.IntervalWindow {
	start := eventTime.Truncate(f.length)
	return []*window.IntervalWindow{
		window.NewIntervalWindow(start, start.Add(f.length)),
	}
}
