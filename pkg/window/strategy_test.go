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

package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivulet-io/rivulet/pkg/trigger"
	"github.com/rivulet-io/rivulet/pkg/window"
	"github.com/rivulet-io/rivulet/pkg/window/strategy/fixed"
	"github.com/rivulet-io/rivulet/pkg/window/strategy/session"
)

func TestNewStrategy_Defaults(t *testing.T) {
	windower, err := fixed.NewFixed(time.Minute)
	require.NoError(t, err)

	s, err := window.NewStrategy(windower)
	require.NoError(t, err)
	assert.Equal(t, window.Discard, s.AccumulationMode)
	assert.Equal(t, time.Duration(0), s.AllowedLateness)
	assert.Equal(t, window.EndOfWindow, s.OutputTimeFn)
	assert.Equal(t, trigger.KindAfterWatermark, s.Trigger.Kind)
}

func TestNewStrategy_ConfigurationErrors(t *testing.T) {
	windower, err := fixed.NewFixed(time.Minute)
	require.NoError(t, err)

	_, err = window.NewStrategy(nil)
	assert.Error(t, err)

	_, err = window.NewStrategy(windower, window.WithAllowedLateness(-time.Second))
	assert.Error(t, err)

	_, err = window.NewStrategy(windower, window.WithTrigger(trigger.AfterCount(0)))
	assert.Error(t, err)
}

func TestStrategy_GCTimeAndExpiry(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)

	windower, err := fixed.NewFixed(time.Minute)
	require.NoError(t, err)
	s, err := window.NewStrategy(windower, window.WithAllowedLateness(30*time.Second))
	require.NoError(t, err)

	w := window.NewIntervalWindow(base, base.Add(time.Minute))
	gc := w.MaxTimestamp().Add(30 * time.Second)
	assert.Equal(t, gc, s.GCTime(w))
	// the boundary is inclusive: a watermark exactly at gc time fires the
	// gc timer, so admission must stop at the same instant
	assert.False(t, s.IsExpired(w, gc.Add(-time.Millisecond)))
	assert.True(t, s.IsExpired(w, gc))
	assert.True(t, s.IsExpired(w, gc.Add(time.Millisecond)))
}

func TestStrategy_OutputTime(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)
	w := window.NewIntervalWindow(base, base.Add(time.Minute))
	earliest := base.Add(time.Second)
	latest := base.Add(30 * time.Second)

	windower, err := fixed.NewFixed(time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name string
		fn   window.OutputTimeFn
		want time.Time
	}{
		{name: "end_of_window", fn: window.EndOfWindow, want: w.MaxTimestamp()},
		{name: "earliest", fn: window.EarliestElement, want: earliest},
		{name: "latest", fn: window.LatestElement, want: latest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := window.NewStrategy(windower, window.WithOutputTimeFn(tt.fn))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.OutputTime(w, earliest, latest))
		})
	}
}

func TestStrategy_MarshalRoundTrip(t *testing.T) {
	windower, err := session.NewSession(10 * time.Second)
	require.NoError(t, err)

	s, err := window.NewStrategy(windower,
		window.WithTrigger(trigger.AfterWatermark().WithLateFirings(trigger.AfterCount(1))),
		window.WithAccumulationMode(window.Accumulate),
		window.WithAllowedLateness(time.Minute),
		window.WithOutputTimeFn(window.EarliestElement),
	)
	require.NoError(t, err)

	blob, err := s.Marshal()
	require.NoError(t, err)

	got, err := window.Unmarshal(blob)
	require.NoError(t, err)
	assert.Equal(t, window.Session, got.Windower.Kind())
	sess, ok := got.Windower.(*session.Session)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, sess.Gap())
	assert.Equal(t, window.Accumulate, got.AccumulationMode)
	assert.Equal(t, time.Minute, got.AllowedLateness)
	assert.Equal(t, window.EarliestElement, got.OutputTimeFn)
	assert.Equal(t, trigger.KindAfterWatermark, got.Trigger.Kind)
	assert.NotNil(t, got.Trigger.Late)
}
