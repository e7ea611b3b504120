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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEow = time.UnixMilli(10_000)
	testNow = time.UnixMilli(50_000)
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		trigger *Trigger
		wantErr bool
	}{
		{name: "default", trigger: Default()},
		{name: "after_count", trigger: AfterCount(3)},
		{name: "after_count_zero", trigger: AfterCount(0), wantErr: true},
		{name: "after_processing_time", trigger: AfterProcessingTime(time.Second)},
		{name: "after_processing_time_negative", trigger: AfterProcessingTime(-time.Second), wantErr: true},
		{name: "repeat", trigger: Repeat(AfterCount(2))},
		{name: "repeat_no_sub", trigger: &Trigger{Kind: KindRepeat}, wantErr: true},
		{name: "after_first_empty", trigger: &Trigger{Kind: KindAfterFirst}, wantErr: true},
		{name: "after_all", trigger: AfterAll(AfterCount(2), AfterProcessingTime(time.Second))},
		{name: "watermark_with_firings", trigger: AfterWatermark().WithEarlyFirings(AfterCount(5)).WithLateFirings(AfterCount(1))},
		{name: "invalid_early", trigger: AfterWatermark().WithEarlyFirings(AfterCount(-1)), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMachine_AfterWatermark(t *testing.T) {
	m, err := NewMachine(AfterWatermark())
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	reqs := m.TimerRequests(st, testEow)
	require.Len(t, reqs, 1)
	assert.Equal(t, EventTime, reqs[0].Domain)
	assert.Equal(t, testEow, reqs[0].At)

	// an event time timer before the end of the window does nothing
	assert.Equal(t, Continue, m.OnTimer(st, EventTime, testEow.Add(-time.Millisecond), testEow))
	// at the end of the window the trigger fires and finishes
	assert.Equal(t, FireAndFinish, m.OnTimer(st, EventTime, testEow, testEow))
	assert.True(t, m.IsFinished(st))
	// sealed: no more transitions, no more timers
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	assert.Empty(t, m.TimerRequests(st, testEow))
}

func TestMachine_AfterWatermarkWithLateFirings(t *testing.T) {
	m, err := NewMachine(AfterWatermark().WithLateFirings(AfterCount(1)))
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	// with late firings the end of window pane does not finish
	assert.Equal(t, Fire, m.OnTimer(st, EventTime, testEow, testEow))
	assert.False(t, m.IsFinished(st))

	// every late element fires
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(3), testEow, testNow))
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(4), testEow, testNow))
	assert.False(t, m.IsFinished(st))
}

func TestMachine_AfterWatermarkWithEarlyFirings(t *testing.T) {
	m, err := NewMachine(AfterWatermark().WithEarlyFirings(AfterCount(2)))
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	// second element reaches the early count: speculative pane, no finish
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	assert.False(t, m.IsFinished(st))
	// the early trigger re-arms
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(3), testEow, testNow))
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(4), testEow, testNow))
	// end of window still fires and, without late firings, finishes
	assert.Equal(t, FireAndFinish, m.OnTimer(st, EventTime, testEow, testEow))
}

func TestMachine_AfterCount(t *testing.T) {
	m, err := NewMachine(AfterCount(3))
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	assert.Equal(t, FireAndFinish, m.OnElement(st, time.UnixMilli(3), testEow, testNow))
	assert.True(t, m.IsFinished(st))
}

func TestMachine_RepeatAfterCount(t *testing.T) {
	m, err := NewMachine(Repeat(AfterCount(2)))
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	assert.False(t, m.IsFinished(st))
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(3), testEow, testNow))
	assert.Equal(t, Fire, m.OnElement(st, time.UnixMilli(4), testEow, testNow))
	assert.False(t, m.IsFinished(st))
}

func TestMachine_AfterProcessingTime(t *testing.T) {
	m, err := NewMachine(AfterProcessingTime(5 * time.Second))
	require.NoError(t, err)
	st := m.NewState()

	// first element arms the deadline
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	reqs := m.TimerRequests(st, testEow)
	require.Len(t, reqs, 1)
	assert.Equal(t, ProcessingTime, reqs[0].Domain)
	assert.Equal(t, testNow.Add(5*time.Second), reqs[0].At)

	// later elements do not move it
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(2), testEow, testNow.Add(time.Second)))
	reqs = m.TimerRequests(st, testEow)
	require.Len(t, reqs, 1)
	assert.Equal(t, testNow.Add(5*time.Second), reqs[0].At)

	assert.Equal(t, Continue, m.OnTimer(st, ProcessingTime, testNow.Add(4*time.Second), testEow))
	assert.Equal(t, FireAndFinish, m.OnTimer(st, ProcessingTime, testNow.Add(5*time.Second), testEow))
	assert.True(t, m.IsFinished(st))
}

func TestMachine_AfterFirst(t *testing.T) {
	m, err := NewMachine(AfterFirst(AfterCount(2), AfterProcessingTime(5*time.Second)))
	require.NoError(t, err)
	st := m.NewState()

	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	// the count child fires first and finished, so the composite finishes
	assert.Equal(t, FireAndFinish, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	assert.True(t, m.IsFinished(st))
}

func TestMachine_AfterAll(t *testing.T) {
	m, err := NewMachine(AfterAll(AfterCount(2), AfterProcessingTime(5*time.Second)))
	require.NoError(t, err)
	st := m.NewState()

	// count reached but the delay has not elapsed: no joint firing yet
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(1), testEow, testNow))
	assert.Equal(t, Continue, m.OnElement(st, time.UnixMilli(2), testEow, testNow))
	// once the delay passes every child has fired, and both finished
	assert.Equal(t, FireAndFinish, m.OnTimer(st, ProcessingTime, testNow.Add(5*time.Second), testEow))
	assert.True(t, m.IsFinished(st))
}

func TestMachine_OnMerge(t *testing.T) {
	m, err := NewMachine(Repeat(AfterCount(5)))
	require.NoError(t, err)

	a := m.NewState()
	b := m.NewState()
	// two sessions saw 2 and 2 elements respectively
	for i := 0; i < 2; i++ {
		m.OnElement(a, time.UnixMilli(int64(i)), testEow, testNow)
		m.OnElement(b, time.UnixMilli(int64(i)), testEow, testNow)
	}

	merged := m.OnMerge([]*State{a, b})
	assert.Equal(t, int64(4), merged.Children[0].Count)
	// the merged window behaves as if it saw all four elements: the fifth
	// fires
	assert.Equal(t, Fire, m.OnElement(merged, time.UnixMilli(9), testEow, testNow))
}

func TestMachine_OnMerge_FinishedWins(t *testing.T) {
	m, err := NewMachine(AfterCount(2))
	require.NoError(t, err)

	a := m.NewState()
	m.OnElement(a, time.UnixMilli(1), testEow, testNow)
	m.OnElement(a, time.UnixMilli(2), testEow, testNow)
	require.True(t, m.IsFinished(a))
	b := m.NewState()

	merged := m.OnMerge([]*State{a, b})
	assert.True(t, m.IsFinished(merged))
}

func TestMachine_OnMerge_EowPassedIsConservative(t *testing.T) {
	m, err := NewMachine(AfterWatermark().WithLateFirings(AfterCount(1)))
	require.NoError(t, err)

	a := m.NewState()
	assert.Equal(t, Fire, m.OnTimer(a, EventTime, testEow, testEow))
	require.True(t, a.EowPassed)
	b := m.NewState()

	// merging with a window whose end the watermark has not passed resets
	// the end of window bit, the new larger window must be re-timed
	merged := m.OnMerge([]*State{a, b})
	assert.False(t, merged.EowPassed)
	reqs := m.TimerRequests(merged, testEow.Add(time.Second))
	require.Len(t, reqs, 1)
	assert.Equal(t, testEow.Add(time.Second), reqs[0].At)
}

func TestState_MarshalRoundTrip(t *testing.T) {
	m, err := NewMachine(AfterWatermark().WithEarlyFirings(AfterCount(3)).WithLateFirings(AfterCount(1)))
	require.NoError(t, err)
	st := m.NewState()
	m.OnElement(st, time.UnixMilli(1), testEow, testNow)
	m.OnElement(st, time.UnixMilli(2), testEow, testNow)

	b, err := MarshalState(st)
	require.NoError(t, err)
	got, err := UnmarshalState(b)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	// the decoded state continues where the encoded one stopped
	assert.Equal(t, Fire, m.OnElement(got, time.UnixMilli(3), testEow, testNow))
}
