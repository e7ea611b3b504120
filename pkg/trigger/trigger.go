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

// Package trigger implements the per (key, window) automaton that decides
// when a window's buffered state is emitted as a pane. A trigger is a
// closed tree of variants, the decision at every event is computed from
// timestamps, counts and time domain signals only, never from the buffered
// values.
//
// Composition semantics:
//
//   - AfterWatermark fires when the watermark passes the end of the
//     window. An optional early sub trigger can fire speculative panes
//     before that, an optional late sub trigger can fire on late data
//     after it. Without a late sub trigger the end of window firing
//     finishes the trigger.
//   - AfterCount fires and finishes once the element count reaches the
//     threshold. Wrap it in Repeat to fire every N elements.
//   - AfterProcessingTime fires and finishes once the configured delay has
//     elapsed in processing time since the first element of the pane.
//   - Repeat re-arms its sub trigger whenever it finishes, converting
//     FireAndFinish into Fire. Repeat itself never finishes.
//   - AfterFirst fires when any child fires and finishes when the child
//     that fired also finished.
//   - AfterAll fires once every child has requested a fire since the last
//     firing, and finishes once every child has finished.
package trigger

import (
	"fmt"
	"time"
)

// Result is the outcome of one trigger transition.
type Result int

const (
	// Continue keeps buffering, nothing is emitted.
	Continue Result = iota
	// Fire emits the current pane and stays active.
	Fire
	// FireAndFinish emits the current pane and seals the window.
	FireAndFinish
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "CONTINUE"
	case Fire:
		return "FIRE"
	case FireAndFinish:
		return "FIRE_AND_FINISH"
	default:
		return "UNKNOWN"
	}
}

// Fires reports whether the result requests a pane emission.
func (r Result) Fires() bool {
	return r == Fire || r == FireAndFinish
}

// TimeDomain distinguishes event time from processing time signals.
type TimeDomain int

const (
	EventTime TimeDomain = iota
	ProcessingTime
)

func (d TimeDomain) String() string {
	switch d {
	case EventTime:
		return "EVENT_TIME"
	case ProcessingTime:
		return "PROCESSING_TIME"
	default:
		return "UNKNOWN"
	}
}

// Kind enumerates the trigger variants.
type Kind int

const (
	KindAfterWatermark Kind = iota
	KindAfterCount
	KindAfterProcessingTime
	KindRepeat
	KindAfterFirst
	KindAfterAll
)

func (k Kind) String() string {
	switch k {
	case KindAfterWatermark:
		return "AfterWatermark"
	case KindAfterCount:
		return "AfterCount"
	case KindAfterProcessingTime:
		return "AfterProcessingTime"
	case KindRepeat:
		return "Repeat"
	case KindAfterFirst:
		return "AfterFirst"
	case KindAfterAll:
		return "AfterAll"
	default:
		return "Unknown"
	}
}

// Trigger is an immutable trigger specification. The zero fields not used
// by a variant stay empty so the tree serializes as a compact blob.
type Trigger struct {
	Kind    Kind       `json:"kind"`
	Count   int64      `json:"count,omitempty"`
	DelayMs int64      `json:"delayMs,omitempty"`
	Early   *Trigger   `json:"early,omitempty"`
	Late    *Trigger   `json:"late,omitempty"`
	Sub     *Trigger   `json:"sub,omitempty"`
	Subs    []*Trigger `json:"subs,omitempty"`
}

// Default returns the default trigger, fire once when the watermark passes
// the end of the window.
func Default() *Trigger {
	return AfterWatermark()
}

// AfterWatermark returns a trigger that fires when the watermark passes the
// end of the window.
func AfterWatermark() *Trigger {
	return &Trigger{Kind: KindAfterWatermark}
}

// WithEarlyFirings attaches a speculative sub trigger consulted before the
// watermark reaches the end of the window.
func (t *Trigger) WithEarlyFirings(early *Trigger) *Trigger {
	t.Early = early
	return t
}

// WithLateFirings attaches a sub trigger consulted for late data after the
// on time pane. With late firings configured the end of window pane does
// not finish the trigger.
func (t *Trigger) WithLateFirings(late *Trigger) *Trigger {
	t.Late = late
	return t
}

// AfterCount returns a trigger that fires and finishes once count elements
// have been buffered.
func AfterCount(count int64) *Trigger {
	return &Trigger{Kind: KindAfterCount, Count: count}
}

// AfterProcessingTime returns a trigger that fires and finishes once delay
// has elapsed in processing time since the first element of the pane.
func AfterProcessingTime(delay time.Duration) *Trigger {
	return &Trigger{Kind: KindAfterProcessingTime, DelayMs: delay.Milliseconds()}
}

// Repeat re-arms the sub trigger forever.
func Repeat(sub *Trigger) *Trigger {
	return &Trigger{Kind: KindRepeat, Sub: sub}
}

// AfterFirst fires when the first of the children fires.
func AfterFirst(subs ...*Trigger) *Trigger {
	return &Trigger{Kind: KindAfterFirst, Subs: subs}
}

// AfterAll fires when all of the children have fired.
func AfterAll(subs ...*Trigger) *Trigger {
	return &Trigger{Kind: KindAfterAll, Subs: subs}
}

// Validate rejects invalid specifications at construction time.
func (t *Trigger) Validate() error {
	if t == nil {
		return fmt.Errorf("trigger must not be nil")
	}
	switch t.Kind {
	case KindAfterWatermark:
		if t.Early != nil {
			if err := t.Early.Validate(); err != nil {
				return fmt.Errorf("invalid early firings: %w", err)
			}
		}
		if t.Late != nil {
			if err := t.Late.Validate(); err != nil {
				return fmt.Errorf("invalid late firings: %w", err)
			}
		}
	case KindAfterCount:
		if t.Count <= 0 {
			return fmt.Errorf("AfterCount requires a positive count, got %d", t.Count)
		}
	case KindAfterProcessingTime:
		if t.DelayMs < 0 {
			return fmt.Errorf("AfterProcessingTime requires a non-negative delay, got %dms", t.DelayMs)
		}
	case KindRepeat:
		if t.Sub == nil {
			return fmt.Errorf("Repeat requires a sub trigger")
		}
		return t.Sub.Validate()
	case KindAfterFirst, KindAfterAll:
		if len(t.Subs) == 0 {
			return fmt.Errorf("%v requires at least one sub trigger", t.Kind)
		}
		for _, s := range t.Subs {
			if err := s.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown trigger kind %d", t.Kind)
	}
	return nil
}

// Delay returns the processing time delay of an AfterProcessingTime trigger.
func (t *Trigger) Delay() time.Duration {
	return time.Duration(t.DelayMs) * time.Millisecond
}
