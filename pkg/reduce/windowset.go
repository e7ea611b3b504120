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

package reduce

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rivulet-io/rivulet/pkg/window"
)

// State store tags of a (key, window) partition.
const (
	tagElements    = "elements"
	tagAccumulator = "accumulator"
	tagTrigger     = "trigger"
	tagPane        = "pane"
)

// Timer tags of a (key, window) partition.
const (
	timerTagTrigger    = "eow"
	timerTagGC         = "gc"
	timerTagProcessing = "pt"
)

// windowSet tracks the active windows of every key slot of one shard. The
// engine serializes all access per shard, so no locking beyond the sorted
// lists' own is needed. Merging windowers rewrite entries when sessions
// grow; aligned windowers only ever insert and remove.
type windowSet struct {
	active map[string]*window.SortedWindowList
}

func newWindowSet() *windowSet {
	return &windowSet{
		active: make(map[string]*window.SortedWindowList),
	}
}

// insert adds the window to the slot's active set and returns the resident
// window, which is the existing one when an equal window was already
// active.
func (ws *windowSet) insert(slot string, w *window.IntervalWindow) (*window.IntervalWindow, bool) {
	list, ok := ws.active[slot]
	if !ok {
		list = window.NewSortedWindowList()
		ws.active[slot] = list
	}
	return list.InsertIfNotPresent(w)
}

// items returns the slot's active windows in start time order.
func (ws *windowSet) items(slot string) []*window.IntervalWindow {
	list, ok := ws.active[slot]
	if !ok {
		return nil
	}
	return list.Items()
}

// remove drops the window from the slot's active set.
func (ws *windowSet) remove(slot string, w *window.IntervalWindow) {
	list, ok := ws.active[slot]
	if !ok {
		return
	}
	list.Delete(w)
	if list.Len() == 0 {
		delete(ws.active, slot)
	}
}

// findContaining returns the slot's active window containing t.
func (ws *windowSet) findContaining(slot string, t time.Time) (*window.IntervalWindow, bool) {
	list, ok := ws.active[slot]
	if !ok {
		return nil, false
	}
	return list.FindWindowForTime(t)
}

// paneMeta is the per partition pane bookkeeping persisted under tagPane.
// Earliest/Latest/Count describe the elements of the pending pane (all
// retained elements in accumulating mode); Index and OnTimeEmitted span
// the window's whole firing sequence.
type paneMeta struct {
	EarliestMs int64 `json:"earliestMs,omitempty"`
	LatestMs   int64 `json:"latestMs,omitempty"`
	Count      int64 `json:"count"`
	// EmittedCount is the element count at the last firing, used at
	// garbage collection time to tell whether unflushed data remains.
	EmittedCount  int64 `json:"emittedCount,omitempty"`
	Index         int64 `json:"index"`
	OnTimeEmitted bool  `json:"onTimeEmitted,omitempty"`
}

func (p *paneMeta) observe(eventTime time.Time) {
	ts := eventTime.UnixMilli()
	if p.Count == 0 || ts < p.EarliestMs {
		p.EarliestMs = ts
	}
	if p.Count == 0 || ts > p.LatestMs {
		p.LatestMs = ts
	}
	p.Count++
}

// clearPane resets the pending pane contents after a discarding firing,
// the firing sequence bookkeeping survives.
func (p *paneMeta) clearPane() {
	p.EarliestMs = 0
	p.LatestMs = 0
	p.Count = 0
	p.EmittedCount = 0
}

func (p *paneMeta) earliest() time.Time {
	return time.UnixMilli(p.EarliestMs)
}

func (p *paneMeta) latest() time.Time {
	return time.UnixMilli(p.LatestMs)
}

func marshalPaneMeta(p *paneMeta) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pane metadata: %w", err)
	}
	return b, nil
}

func unmarshalPaneMeta(data []byte) (*paneMeta, error) {
	p := &paneMeta{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode pane metadata: %w", err)
	}
	return p, nil
}

// mergePaneMetas combines the pane bookkeeping of merging windows: element
// spans union, counts sum, the firing sequence continues from the furthest
// source.
func mergePaneMetas(metas []*paneMeta) *paneMeta {
	merged := &paneMeta{}
	for _, m := range metas {
		if m.Count > 0 {
			if merged.Count == 0 || m.EarliestMs < merged.EarliestMs {
				merged.EarliestMs = m.EarliestMs
			}
			if merged.Count == 0 || m.LatestMs > merged.LatestMs {
				merged.LatestMs = m.LatestMs
			}
		}
		merged.Count += m.Count
		merged.EmittedCount += m.EmittedCount
		if m.Index > merged.Index {
			merged.Index = m.Index
		}
		merged.OnTimeEmitted = merged.OnTimeEmitted || m.OnTimeEmitted
	}
	return merged
}

// bufferedElement is one raw buffered value under tagElements.
type bufferedElement struct {
	Value       []byte `json:"v"`
	EventTimeMs int64  `json:"tsMs"`
}

func marshalBuffered(value []byte, eventTime time.Time) ([]byte, error) {
	b, err := json.Marshal(bufferedElement{Value: value, EventTimeMs: eventTime.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode buffered element: %w", err)
	}
	return b, nil
}

func unmarshalBuffered(data []byte) (*bufferedElement, error) {
	be := &bufferedElement{}
	if err := json.Unmarshal(data, be); err != nil {
		return nil, fmt.Errorf("failed to decode buffered element: %w", err)
	}
	return be, nil
}
