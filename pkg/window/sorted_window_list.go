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
	"sort"
	"sync"
	"time"
)

// SortedWindowList is a thread safe list of windows ordered by start time
// from lowest to highest. The head always holds the earliest window.
type SortedWindowList struct {
	windows []*IntervalWindow
	lock    *sync.RWMutex
}

// NewSortedWindowList returns an empty list.
func NewSortedWindowList() *SortedWindowList {
	return &SortedWindowList{
		windows: make([]*IntervalWindow, 0),
		lock:    &sync.RWMutex{},
	}
}

// InsertIfNotPresent inserts the window keeping start time order and
// returns the resident window. The boolean is true when an equal window was
// already present.
func (s *SortedWindowList) InsertIfNotPresent(w *IntervalWindow) (*IntervalWindow, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	index := sort.Search(len(s.windows), func(i int) bool {
		return !s.windows[i].Start.Before(w.Start)
	})

	for i := index; i < len(s.windows); i++ {
		if s.windows[i].Equals(w) {
			return s.windows[i], true
		}
		if s.windows[i].Start.After(w.Start) {
			break
		}
	}

	s.windows = append(s.windows, nil)
	copy(s.windows[index+1:], s.windows[index:])
	s.windows[index] = w
	return w, false
}

// Delete removes the window from the list.
func (s *SortedWindowList) Delete(w *IntervalWindow) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i, win := range s.windows {
		if win.Equals(w) {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			return true
		}
	}
	return false
}

// FindWindowForTime returns the first window containing t.
func (s *SortedWindowList) FindWindowForTime(t time.Time) (*IntervalWindow, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, w := range s.windows {
		if w.Contains(t) {
			return w, true
		}
	}
	return nil, false
}

// Items returns a snapshot of the windows in start time order.
func (s *SortedWindowList) Items() []*IntervalWindow {
	s.lock.RLock()
	defer s.lock.RUnlock()
	items := make([]*IntervalWindow, len(s.windows))
	copy(items, s.windows)
	return items
}

// Len returns the number of active windows.
func (s *SortedWindowList) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.windows)
}
