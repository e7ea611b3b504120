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

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivulet-io/rivulet/pkg/combiner"
	"github.com/rivulet-io/rivulet/pkg/element"
	"github.com/rivulet-io/rivulet/pkg/sideinput"
	"github.com/rivulet-io/rivulet/pkg/state/memory"
	"github.com/rivulet-io/rivulet/pkg/window"
	"github.com/rivulet-io/rivulet/pkg/window/strategy/fixed"
)

// sliceSource replays a fixed sequence of events and then reports
// exhaustion.
type sliceSource struct {
	events []*Event
	next   int
}

func (s *sliceSource) Read(_ context.Context) (*Event, error) {
	if s.next >= len(s.events) {
		return nil, nil
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

// collectSink gathers every written pane, optionally failing the first
// writes to exercise the retry path.
type collectSink struct {
	mu       sync.Mutex
	panes    []*element.Pane
	failures int
}

func (c *collectSink) Write(_ context.Context, panes []*element.Pane) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("transient sink error")
	}
	c.panes = append(c.panes, panes...)
	return nil
}

func (c *collectSink) byKey() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for _, p := range c.panes {
		out[p.Keys[0]] = string(p.Value)
	}
	return out
}

func fixedSumStrategy(t *testing.T, length time.Duration) *window.Strategy {
	t.Helper()
	windower, err := fixed.NewFixed(length)
	require.NoError(t, err)
	s, err := window.NewStrategy(windower)
	require.NoError(t, err)
	return s
}

func keyedEvent(key, value string, tsMs int64) *Event {
	return &Event{Element: &element.Element{
		Keys:      []string{key},
		Value:     []byte(value),
		EventTime: time.UnixMilli(tsMs),
	}}
}

func TestEngine_EndToEnd(t *testing.T) {
	source := &sliceSource{events: []*Event{
		keyedEvent("a", "1", 1),
		keyedEvent("b", "10", 2),
		keyedEvent("a", "2", 3),
		keyedEvent("b", "20", 4),
		{Watermark: time.UnixMilli(11)},
	}}
	sink := &collectSink{}

	e, err := New("e2e-sum", fixedSumStrategy(t, 10*time.Millisecond), memory.NewStore(), source, sink, combiner.Sum{}, &Options{
		Shards:        2,
		MaxBundleSize: 16,
		BundleTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	// one pane per key, each the combined sum of its window
	assert.Equal(t, map[string]string{"a": "3", "b": "30"}, sink.byKey())

	// every shard saw the watermark advance and nothing holds it back
	assert.Equal(t, int64(11), e.OutputWatermark().Time().UnixMilli())
}

func TestEngine_SinkRetry(t *testing.T) {
	source := &sliceSource{events: []*Event{
		keyedEvent("a", "5", 1),
		{Watermark: time.UnixMilli(11)},
	}}
	sink := &collectSink{failures: 2}

	e, err := New("e2e-retry", fixedSumStrategy(t, 10*time.Millisecond), memory.NewStore(), source, sink, combiner.Sum{}, &Options{
		Shards:        1,
		MaxBundleSize: 16,
		BundleTimeout: time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, map[string]string{"a": "5"}, sink.byKey())
}

func TestEngine_RawValuesWithoutCombiner(t *testing.T) {
	source := &sliceSource{events: []*Event{
		keyedEvent("a", "x", 1),
		keyedEvent("a", "y", 2),
		{Watermark: time.UnixMilli(11)},
	}}
	sink := &collectSink{}

	e, err := New("e2e-raw", fixedSumStrategy(t, 10*time.Millisecond), memory.NewStore(), source, sink, nil, &Options{
		Shards:        1,
		MaxBundleSize: 16,
		BundleTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	require.Len(t, sink.panes, 1)
	require.Len(t, sink.panes[0].Values, 2)
	assert.Equal(t, "x", string(sink.panes[0].Values[0]))
	assert.Equal(t, "y", string(sink.panes[0].Values[1]))
}

func TestEngine_SideInputReachesSink(t *testing.T) {
	view := sideinput.NewBroadcast()
	view.Publish(time.UnixMilli(0), []byte("v0"))

	source := &sliceSource{events: []*Event{
		keyedEvent("a", "1", 1),
		{Watermark: time.UnixMilli(11)},
	}}
	sink := &collectSink{}

	e, err := New("e2e-sideinput", fixedSumStrategy(t, 10*time.Millisecond), memory.NewStore(), source, sink, combiner.Sum{}, &Options{
		Shards:        1,
		MaxBundleSize: 16,
		BundleTimeout: 10 * time.Millisecond,
		SideInput:     view,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	require.Len(t, sink.panes, 1)
	assert.Equal(t, "v0", string(sink.panes[0].SideInput))
}

// A shard whose bundle fails must stop the engine and surface its own
// error, even while the source still has events queued for it.
func TestEngine_ShardFailureSurfaces(t *testing.T) {
	events := []*Event{keyedEvent("a", "not-a-number", 1)}
	for i := 0; i < 64; i++ {
		events = append(events, keyedEvent("a", "1", int64(i+2)))
	}
	source := &sliceSource{events: events}
	sink := &collectSink{}

	e, err := New("e2e-shard-failure", fixedSumStrategy(t, 10*time.Millisecond), memory.NewStore(), source, sink, combiner.Sum{}, &Options{
		Shards:        1,
		MaxBundleSize: 1,
		BundleTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err = e.Run(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "shard 0")
	assert.ErrorContains(t, err, "sum")
	// it returned because the shard failed, not because the deadline hit
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Empty(t, sink.byKey())
}

func TestEngine_OptionValidation(t *testing.T) {
	strategy := fixedSumStrategy(t, 10*time.Millisecond)
	src := &sliceSource{}
	sink := &collectSink{}

	_, err := New("bad-shards", strategy, memory.NewStore(), src, sink, nil, &Options{Shards: 0, MaxBundleSize: 1})
	assert.Error(t, err)

	_, err = New("bad-bundle", strategy, memory.NewStore(), src, sink, nil, &Options{Shards: 1, MaxBundleSize: 0})
	assert.Error(t, err)
}

func TestEngine_ShardForIsStable(t *testing.T) {
	e := &Engine{shards: make([]*shard, 4)}
	for _, key := range []string{"a", "b", "user-42", ""} {
		first := e.shardFor(key)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, e.shardFor(key))
		}
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 4)
	}
}
