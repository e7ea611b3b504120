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

package window

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rivulet-io/rivulet/pkg/trigger"
)

// AccumulationMode controls whether successive panes of the same window are
// cumulative or reset after every firing.
type AccumulationMode int

const (
	// Discard clears the pane state after each firing, a later pane only
	// contains elements that arrived after the previous firing.
	Discard AccumulationMode = iota
	// Accumulate retains the pane state across firings, every pane contains
	// all elements seen so far in the window.
	Accumulate
)

func (m AccumulationMode) String() string {
	switch m {
	case Discard:
		return "DISCARD"
	case Accumulate:
		return "ACCUMULATE"
	default:
		return "UNKNOWN"
	}
}

// OutputTimeFn selects the timestamp stamped on an emitted pane.
type OutputTimeFn int

const (
	// EndOfWindow stamps panes with the window's max timestamp.
	EndOfWindow OutputTimeFn = iota
	// EarliestElement stamps panes with the minimum element timestamp in the
	// pane.
	EarliestElement
	// LatestElement stamps panes with the maximum element timestamp in the
	// pane.
	LatestElement
)

func (o OutputTimeFn) String() string {
	switch o {
	case EndOfWindow:
		return "END_OF_WINDOW"
	case EarliestElement:
		return "EARLIEST_ELEMENT"
	case LatestElement:
		return "LATEST_ELEMENT"
	default:
		return "UNKNOWN"
	}
}

// Strategy is the immutable windowing configuration of one computation. It
// is shared read only across all keys and can be shipped to remote workers
// as an opaque blob.
type Strategy struct {
	Windower         Windower
	Trigger          *trigger.Trigger
	AccumulationMode AccumulationMode
	AllowedLateness  time.Duration
	OutputTimeFn     OutputTimeFn
}

// StrategyOption customizes a Strategy.
type StrategyOption func(*Strategy)

// WithTrigger overrides the default trigger.
func WithTrigger(t *trigger.Trigger) StrategyOption {
	return func(s *Strategy) {
		s.Trigger = t
	}
}

// WithAccumulationMode sets the accumulation mode.
func WithAccumulationMode(m AccumulationMode) StrategyOption {
	return func(s *Strategy) {
		s.AccumulationMode = m
	}
}

// WithAllowedLateness sets how long past the end of a window late elements
// are still admitted.
func WithAllowedLateness(d time.Duration) StrategyOption {
	return func(s *Strategy) {
		s.AllowedLateness = d
	}
}

// WithOutputTimeFn sets the pane timestamp policy.
func WithOutputTimeFn(fn OutputTimeFn) StrategyOption {
	return func(s *Strategy) {
		s.OutputTimeFn = fn
	}
}

// NewStrategy builds and validates a Strategy. Configuration errors are
// returned here, never surfaced on the data path.
func NewStrategy(windower Windower, opts ...StrategyOption) (*Strategy, error) {
	if windower == nil {
		return nil, fmt.Errorf("windowing strategy requires a windower")
	}
	s := &Strategy{
		Windower:         windower,
		Trigger:          trigger.Default(),
		AccumulationMode: Discard,
		AllowedLateness:  0,
		OutputTimeFn:     EndOfWindow,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.Trigger.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}
	if s.AllowedLateness < 0 {
		return nil, fmt.Errorf("allowed lateness must not be negative, got %v", s.AllowedLateness)
	}
	if s.AccumulationMode != Discard && s.AccumulationMode != Accumulate {
		return nil, fmt.Errorf("unknown accumulation mode %d", s.AccumulationMode)
	}
	switch s.OutputTimeFn {
	case EndOfWindow, EarliestElement, LatestElement:
	default:
		return nil, fmt.Errorf("unknown output time fn %d", s.OutputTimeFn)
	}
	return s, nil
}

// GCTime returns the instant at which the given window becomes garbage
// collectable, i.e. its max timestamp plus the allowed lateness.
func (s *Strategy) GCTime(w *IntervalWindow) time.Time {
	return w.MaxTimestamp().Add(s.AllowedLateness)
}

// IsExpired reports whether the window is at or beyond garbage collection
// time relative to the given watermark. The boundary is inclusive to match
// timer delivery: the instant the GC timer fires and the window is
// collected, elements for it are dropped, never reopened.
func (s *Strategy) IsExpired(w *IntervalWindow, watermark time.Time) bool {
	return !watermark.Before(s.GCTime(w))
}

// OutputTime applies the strategy's output time policy to a pane whose
// element timestamps span [earliest, latest] inside window w.
func (s *Strategy) OutputTime(w *IntervalWindow, earliest, latest time.Time) time.Time {
	switch s.OutputTimeFn {
	case EarliestElement:
		return earliest
	case LatestElement:
		return latest
	default:
		return w.MaxTimestamp()
	}
}

// strategyBlob is the wire form of a Strategy. The windower serializes by
// kind plus durations so a remote worker can rebuild it without code refs.
type strategyBlob struct {
	Kind              Kind             `json:"kind"`
	LengthMs          int64            `json:"lengthMs,omitempty"`
	SlideMs           int64            `json:"slideMs,omitempty"`
	GapMs             int64            `json:"gapMs,omitempty"`
	Trigger           *trigger.Trigger `json:"trigger"`
	AccumulationMode  AccumulationMode `json:"accumulationMode"`
	AllowedLatenessMs int64            `json:"allowedLatenessMs"`
	OutputTimeFn      OutputTimeFn     `json:"outputTimeFn"`
}

// BlobWindower is implemented by windowers that can describe themselves for
// the configuration blob.
type BlobWindower interface {
	Windower
	// Durations returns (length, slide, gap); unused fields are zero.
	Durations() (time.Duration, time.Duration, time.Duration)
}

// Marshal encodes the strategy as an opaque configuration blob.
func (s *Strategy) Marshal() ([]byte, error) {
	bw, ok := s.Windower.(BlobWindower)
	if !ok {
		return nil, fmt.Errorf("windower %v is not serializable", s.Windower.Kind())
	}
	length, slide, gap := bw.Durations()
	blob := strategyBlob{
		Kind:              s.Windower.Kind(),
		LengthMs:          length.Milliseconds(),
		SlideMs:           slide.Milliseconds(),
		GapMs:             gap.Milliseconds(),
		Trigger:           s.Trigger,
		AccumulationMode:  s.AccumulationMode,
		AllowedLatenessMs: s.AllowedLateness.Milliseconds(),
		OutputTimeFn:      s.OutputTimeFn,
	}
	return json.Marshal(blob)
}

// WindowerFactory rebuilds a windower from its blob parameters. The
// strategy packages register themselves here so Unmarshal stays free of
// import cycles.
type WindowerFactory func(length, slide, gap time.Duration) (Windower, error)

var windowerFactories = map[Kind]WindowerFactory{}

// RegisterWindower installs the factory for a windower kind.
func RegisterWindower(k Kind, f WindowerFactory) {
	windowerFactories[k] = f
}

// Unmarshal rebuilds a Strategy from a configuration blob.
func Unmarshal(data []byte) (*Strategy, error) {
	var blob strategyBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("failed to decode windowing strategy: %w", err)
	}
	factory, ok := windowerFactories[blob.Kind]
	if !ok {
		return nil, fmt.Errorf("no windower registered for kind %v", blob.Kind)
	}
	windower, err := factory(
		time.Duration(blob.LengthMs)*time.Millisecond,
		time.Duration(blob.SlideMs)*time.Millisecond,
		time.Duration(blob.GapMs)*time.Millisecond,
	)
	if err != nil {
		return nil, err
	}
	return NewStrategy(windower,
		WithTrigger(blob.Trigger),
		WithAccumulationMode(blob.AccumulationMode),
		WithAllowedLateness(time.Duration(blob.AllowedLatenessMs)*time.Millisecond),
		WithOutputTimeFn(blob.OutputTimeFn),
	)
}
