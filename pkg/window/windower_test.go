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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalWindow_Ops(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)

	w := NewIntervalWindow(base, base.Add(time.Minute))
	assert.Equal(t, base, w.StartTime())
	assert.Equal(t, base.Add(time.Minute), w.EndTime())
	assert.Equal(t, base.Add(time.Minute).Add(-time.Millisecond), w.MaxTimestamp())

	assert.True(t, w.Contains(base))
	assert.True(t, w.Contains(base.Add(59*time.Second)))
	assert.False(t, w.Contains(base.Add(time.Minute)))
	assert.False(t, w.Contains(base.Add(-time.Millisecond)))

	other := NewIntervalWindow(base.Add(30*time.Second), base.Add(90*time.Second))
	assert.True(t, w.Overlaps(other))
	assert.True(t, other.Overlaps(w))

	backToBack := NewIntervalWindow(base.Add(time.Minute), base.Add(2*time.Minute))
	assert.False(t, w.Overlaps(backToBack))

	merged := w.Clone()
	merged.Merge(other)
	assert.Equal(t, base, merged.StartTime())
	assert.Equal(t, base.Add(90*time.Second), merged.EndTime())

	merged.Expand(base.Add(2 * time.Minute))
	assert.Equal(t, base.Add(2*time.Minute), merged.EndTime())
	merged.Expand(base)
	assert.Equal(t, base.Add(2*time.Minute), merged.EndTime())
}

func TestIntervalWindow_Partition(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)

	w := NewIntervalWindow(base, base.Add(time.Minute))
	pid := w.Partition("key-1")
	assert.Equal(t, base, pid.Start)
	assert.Equal(t, base.Add(time.Minute), pid.End)
	assert.Equal(t, "key-1", pid.Slot)
}

func TestSortedWindowList_Insert(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)

	l := NewSortedWindowList()
	w2 := NewIntervalWindow(base.Add(2*time.Minute), base.Add(3*time.Minute))
	w0 := NewIntervalWindow(base, base.Add(time.Minute))
	w1 := NewIntervalWindow(base.Add(time.Minute), base.Add(2*time.Minute))

	_, present := l.InsertIfNotPresent(w2)
	assert.False(t, present)
	_, present = l.InsertIfNotPresent(w0)
	assert.False(t, present)
	_, present = l.InsertIfNotPresent(w1)
	assert.False(t, present)

	resident, present := l.InsertIfNotPresent(w1.Clone())
	assert.True(t, present)
	assert.Same(t, w1, resident)

	items := l.Items()
	assert.Len(t, items, 3)
	assert.Equal(t, w0, items[0])
	assert.Equal(t, w1, items[1])
	assert.Equal(t, w2, items[2])
}

func TestSortedWindowList_FindWindowForTime(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	base := time.Unix(1651129200, 0).In(loc)

	l := NewSortedWindowList()
	w := NewIntervalWindow(base, base.Add(time.Minute))
	l.InsertIfNotPresent(w)

	found, ok := l.FindWindowForTime(base.Add(30 * time.Second))
	assert.True(t, ok)
	assert.Same(t, w, found)

	_, ok = l.FindWindowForTime(base.Add(2 * time.Minute))
	assert.False(t, ok)

	assert.True(t, l.Delete(w))
	assert.False(t, l.Delete(w))
	assert.Equal(t, 0, l.Len())
}
