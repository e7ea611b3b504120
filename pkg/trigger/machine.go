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

package trigger

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// State is the per (key, window) sub-state of a trigger tree. It mirrors
// the shape of the Trigger spec, one node per variant, and serializes as a
// compact blob so it can live in the durable state store. For
// AfterWatermark the children are [early, late], for Repeat [sub], for
// AfterFirst/AfterAll one child per sub trigger.
type State struct {
	// Finished is set once this node can never fire again.
	Finished bool `json:"finished,omitempty"`
	// Count is the number of elements seen since the last reset, used by
	// AfterCount.
	Count int64 `json:"count,omitempty"`
	// DeadlineMs is the processing time deadline of AfterProcessingTime in
	// unix millis, zero while unarmed.
	DeadlineMs int64 `json:"deadlineMs,omitempty"`
	// EowPassed records that the watermark passed the end of the window,
	// used by AfterWatermark to route elements to the late sub trigger.
	EowPassed bool `json:"eowPassed,omitempty"`
	// Pending records that this child has fired since the last joint
	// firing, used by AfterAll.
	Pending bool `json:"pending,omitempty"`
	// Children holds the sub-states, same shape as the spec tree.
	Children []*State `json:"children,omitempty"`
}

// TimerRequest asks the reducer to install a timer that will deliver an
// OnTimer event back into the machine.
type TimerRequest struct {
	Domain TimeDomain
	At     time.Time
}

// Machine executes a trigger spec against per window states. The machine
// itself is stateless and shared across all keys and windows, all mutable
// state lives in the State tree passed to every transition.
//
// Decisions are computed from timestamps, counts and time domain signals
// only, never from buffered element values.
type Machine struct {
	spec *Trigger
}

// NewMachine validates the spec and returns its executor.
func NewMachine(spec *Trigger) (*Machine, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Machine{spec: spec}, nil
}

// Spec returns the trigger specification the machine executes.
func (m *Machine) Spec() *Trigger {
	return m.spec
}

// NewState returns a fresh state tree matching the spec shape.
func (m *Machine) NewState() *State {
	return newState(m.spec)
}

func newState(t *Trigger) *State {
	st := &State{}
	switch t.Kind {
	case KindAfterWatermark:
		st.Children = make([]*State, 2)
		if t.Early != nil {
			st.Children[0] = newState(t.Early)
		}
		if t.Late != nil {
			st.Children[1] = newState(t.Late)
		}
	case KindRepeat:
		st.Children = []*State{newState(t.Sub)}
	case KindAfterFirst, KindAfterAll:
		st.Children = make([]*State, len(t.Subs))
		for i, s := range t.Subs {
			st.Children[i] = newState(s)
		}
	}
	return st
}

// IsFinished reports whether the trigger can never fire again for this
// window.
func (m *Machine) IsFinished(st *State) bool {
	return st.Finished
}

// OnElement feeds one element arrival into the state tree. endOfWindow is
// the window's max timestamp, processingTime the current wall clock.
func (m *Machine) OnElement(st *State, eventTime, endOfWindow, processingTime time.Time) Result {
	return onElement(m.spec, st, eventTime, endOfWindow, processingTime)
}

func onElement(t *Trigger, st *State, eventTime, endOfWindow, processingTime time.Time) Result {
	if st.Finished {
		return Continue
	}
	switch t.Kind {
	case KindAfterWatermark:
		if !st.EowPassed {
			if t.Early != nil {
				// early firings repeat implicitly until the watermark
				// passes the end of the window.
				return repeated(t.Early, st.Children[0], func(sub *Trigger, sst *State) Result {
					return onElement(sub, sst, eventTime, endOfWindow, processingTime)
				})
			}
			return Continue
		}
		if t.Late != nil {
			// late firings repeat implicitly until garbage collection.
			return repeated(t.Late, st.Children[1], func(sub *Trigger, sst *State) Result {
				return onElement(sub, sst, eventTime, endOfWindow, processingTime)
			})
		}
		return Continue
	case KindAfterCount:
		st.Count++
		if st.Count >= t.Count {
			st.Finished = true
			return FireAndFinish
		}
		return Continue
	case KindAfterProcessingTime:
		if st.DeadlineMs == 0 {
			// armed by the first element of the pane.
			st.DeadlineMs = processingTime.Add(t.Delay()).UnixMilli()
		}
		return Continue
	case KindRepeat:
		return repeated(t.Sub, st.Children[0], func(sub *Trigger, sst *State) Result {
			return onElement(sub, sst, eventTime, endOfWindow, processingTime)
		})
	case KindAfterFirst:
		return afterFirst(t, st, func(sub *Trigger, sst *State) Result {
			return onElement(sub, sst, eventTime, endOfWindow, processingTime)
		})
	case KindAfterAll:
		return afterAll(t, st, func(sub *Trigger, sst *State) Result {
			return onElement(sub, sst, eventTime, endOfWindow, processingTime)
		})
	default:
		return Continue
	}
}

// OnTimer feeds a fired timer into the state tree.
func (m *Machine) OnTimer(st *State, domain TimeDomain, firedAt, endOfWindow time.Time) Result {
	return onTimer(m.spec, st, domain, firedAt, endOfWindow)
}

func onTimer(t *Trigger, st *State, domain TimeDomain, firedAt, endOfWindow time.Time) Result {
	if st.Finished {
		return Continue
	}
	switch t.Kind {
	case KindAfterWatermark:
		if !st.EowPassed {
			if domain == EventTime && !firedAt.Before(endOfWindow) {
				st.EowPassed = true
				if t.Late == nil {
					st.Finished = true
					return FireAndFinish
				}
				return Fire
			}
			if t.Early != nil {
				return repeated(t.Early, st.Children[0], func(sub *Trigger, sst *State) Result {
					return onTimer(sub, sst, domain, firedAt, endOfWindow)
				})
			}
			return Continue
		}
		if t.Late != nil {
			return repeated(t.Late, st.Children[1], func(sub *Trigger, sst *State) Result {
				return onTimer(sub, sst, domain, firedAt, endOfWindow)
			})
		}
		return Continue
	case KindAfterCount:
		return Continue
	case KindAfterProcessingTime:
		if domain == ProcessingTime && st.DeadlineMs != 0 && firedAt.UnixMilli() >= st.DeadlineMs {
			st.Finished = true
			return FireAndFinish
		}
		return Continue
	case KindRepeat:
		return repeated(t.Sub, st.Children[0], func(sub *Trigger, sst *State) Result {
			return onTimer(sub, sst, domain, firedAt, endOfWindow)
		})
	case KindAfterFirst:
		return afterFirst(t, st, func(sub *Trigger, sst *State) Result {
			return onTimer(sub, sst, domain, firedAt, endOfWindow)
		})
	case KindAfterAll:
		return afterAll(t, st, func(sub *Trigger, sst *State) Result {
			return onTimer(sub, sst, domain, firedAt, endOfWindow)
		})
	default:
		return Continue
	}
}

// repeated delivers an event to the sub trigger and re-arms it whenever it
// finishes, converting FireAndFinish into Fire. The enclosing node never
// finishes.
func repeated(sub *Trigger, sst *State, deliver func(*Trigger, *State) Result) Result {
	r := deliver(sub, sst)
	if r == FireAndFinish {
		*sst = *newState(sub)
		return Fire
	}
	return r
}

// afterFirst fires when any child fires. It finishes when the child that
// fired also finished; on a plain fire every child is reset so the
// composite behaves identically for the next pane.
func afterFirst(t *Trigger, st *State, deliver func(*Trigger, *State) Result) Result {
	fired := false
	finished := false
	for i, sub := range t.Subs {
		sst := st.Children[i]
		if sst.Finished {
			continue
		}
		r := deliver(sub, sst)
		if r.Fires() {
			fired = true
			if r == FireAndFinish {
				finished = true
			}
		}
	}
	if !fired {
		return Continue
	}
	if finished {
		st.Finished = true
		return FireAndFinish
	}
	for i, sub := range t.Subs {
		*st.Children[i] = *newState(sub)
	}
	return Fire
}

// afterAll fires once every child has fired since the last joint firing,
// and finishes once every child has finished.
func afterAll(t *Trigger, st *State, deliver func(*Trigger, *State) Result) Result {
	for i, sub := range t.Subs {
		sst := st.Children[i]
		if sst.Finished {
			continue
		}
		if deliver(sub, sst).Fires() {
			sst.Pending = true
		}
	}

	allReady := true
	allFinished := true
	for _, sst := range st.Children {
		if !sst.Pending && !sst.Finished {
			allReady = false
		}
		if !sst.Finished {
			allFinished = false
		}
	}
	if !allReady {
		return Continue
	}
	if allFinished {
		st.Finished = true
		return FireAndFinish
	}
	for i, sub := range t.Subs {
		if !st.Children[i].Finished {
			*st.Children[i] = *newState(sub)
		} else {
			st.Children[i].Pending = false
		}
	}
	return Fire
}

// OnMerge reconciles the states of several merging windows into one state
// for the merged window. The reconciliation is deterministic:
//
//   - Finished ORs, a sealed window stays sealed after a merge.
//   - Counts sum, the merged window behaves as if it had seen every
//     element from the start.
//   - Processing time deadlines take the earliest armed deadline.
//   - EowPassed ANDs, the merged window usually extends past the old ends
//     so the watermark must pass the new end again.
//   - Pending ORs.
func (m *Machine) OnMerge(states []*State) *State {
	if len(states) == 0 {
		return m.NewState()
	}
	return mergeStates(m.spec, states)
}

func mergeStates(t *Trigger, states []*State) *State {
	merged := newState(t)
	merged.EowPassed = true
	for _, st := range states {
		merged.Finished = merged.Finished || st.Finished
		merged.Count += st.Count
		merged.Pending = merged.Pending || st.Pending
		merged.EowPassed = merged.EowPassed && st.EowPassed
		if st.DeadlineMs != 0 && (merged.DeadlineMs == 0 || st.DeadlineMs < merged.DeadlineMs) {
			merged.DeadlineMs = st.DeadlineMs
		}
	}

	mergeChild := func(i int, sub *Trigger) {
		children := make([]*State, 0, len(states))
		for _, st := range states {
			if i < len(st.Children) && st.Children[i] != nil {
				children = append(children, st.Children[i])
			}
		}
		if len(children) > 0 {
			merged.Children[i] = mergeStates(sub, children)
		}
	}

	switch t.Kind {
	case KindAfterWatermark:
		if t.Early != nil {
			mergeChild(0, t.Early)
		}
		if t.Late != nil {
			mergeChild(1, t.Late)
		}
	case KindRepeat:
		mergeChild(0, t.Sub)
	case KindAfterFirst, KindAfterAll:
		for i, sub := range t.Subs {
			mergeChild(i, sub)
		}
	}
	return merged
}

// TimerRequests walks the state tree and returns the timers that must be
// armed for the window: the end of window event time timer while the
// watermark has not passed it, and any armed processing time deadline.
// Setting a timer is idempotent so re-requesting after every event is safe.
func (m *Machine) TimerRequests(st *State, endOfWindow time.Time) []TimerRequest {
	reqs := make([]TimerRequest, 0, 2)
	collectTimers(m.spec, st, endOfWindow, &reqs)
	return reqs
}

func collectTimers(t *Trigger, st *State, endOfWindow time.Time, reqs *[]TimerRequest) {
	if st.Finished {
		return
	}
	switch t.Kind {
	case KindAfterWatermark:
		if !st.EowPassed {
			*reqs = append(*reqs, TimerRequest{Domain: EventTime, At: endOfWindow})
			if t.Early != nil {
				collectTimers(t.Early, st.Children[0], endOfWindow, reqs)
			}
		} else if t.Late != nil {
			collectTimers(t.Late, st.Children[1], endOfWindow, reqs)
		}
	case KindAfterProcessingTime:
		if st.DeadlineMs != 0 {
			*reqs = append(*reqs, TimerRequest{Domain: ProcessingTime, At: time.UnixMilli(st.DeadlineMs)})
		}
	case KindRepeat:
		collectTimers(t.Sub, st.Children[0], endOfWindow, reqs)
	case KindAfterFirst, KindAfterAll:
		for i, sub := range t.Subs {
			collectTimers(sub, st.Children[i], endOfWindow, reqs)
		}
	}
}

// MarshalState encodes a state tree for the durable store.
func MarshalState(st *State) ([]byte, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger state: %w", err)
	}
	return b, nil
}

// UnmarshalState decodes a state tree from the durable store.
func UnmarshalState(data []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode trigger state: %w", err)
	}
	return st, nil
}
