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

// Package timers schedules the event time and processing time callbacks
// that drive trigger transitions and garbage collection. Fired timers are
// handed back as plain values for the caller to deliver into the reducer
// as events, the service never invokes callbacks itself, so there is no
// hidden reentrancy.
package timers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/rivulet-io/rivulet/pkg/partition"
	"github.com/rivulet-io/rivulet/pkg/trigger"
)

// Timer is one scheduled callback. A timer is identified by (partition,
// domain, tag); setting it again overwrites the firing time.
type Timer struct {
	Partition partition.ID
	Domain    trigger.TimeDomain
	// Tag distinguishes the timers of one partition, e.g. the end of
	// window timer from the garbage collection timer.
	Tag string
	At  time.Time
}

func (t Timer) id() string {
	return fmt.Sprintf("%s/%v/%s", t.Partition, t.Domain, t.Tag)
}

// Service tracks pending timers of one shard. Event time timers become due
// when the watermark passes them, processing time timers when the clock
// does. The clock is injected so processing time is deterministic in
// tests.
type Service struct {
	mu     sync.Mutex
	clock  clockz.Clock
	timers map[string]Timer
}

// NewService returns an empty timer service on the given clock.
func NewService(clock clockz.Clock) *Service {
	return &Service{
		clock:  clock,
		timers: make(map[string]Timer),
	}
}

// Set installs or overwrites the timer.
func (s *Service) Set(t Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[t.id()] = t
}

// Delete removes the timer if present.
func (s *Service) Delete(pid partition.ID, domain trigger.TimeDomain, tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, Timer{Partition: pid, Domain: domain, Tag: tag}.id())
}

// DeletePartition cancels every timer of the partition, called when a
// window is finished or garbage collected so no timer fires on stale
// state.
func (s *Service) DeletePartition(pid partition.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		if t.Partition.Equals(pid) {
			delete(s.timers, id)
		}
	}
}

// FireEventTime pops and returns the event time timers due at the given
// watermark, ordered by firing time then identity so replays are
// deterministic.
func (s *Service) FireEventTime(watermark time.Time) []Timer {
	return s.pop(trigger.EventTime, watermark)
}

// FireProcessingTime pops and returns the processing time timers due at
// the service clock's current time.
func (s *Service) FireProcessingTime() []Timer {
	return s.pop(trigger.ProcessingTime, s.clock.Now())
}

func (s *Service) pop(domain trigger.TimeDomain, now time.Time) []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]Timer, 0)
	for id, t := range s.timers {
		if t.Domain == domain && !t.At.After(now) {
			due = append(due, t)
			delete(s.timers, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].At.Equal(due[j].At) {
			return due[i].At.Before(due[j].At)
		}
		return due[i].id() < due[j].id()
	})
	return due
}

// NextProcessingTime returns the earliest pending processing time timer,
// used by the engine to schedule its next wakeup. The boolean is false
// when none is pending.
func (s *Service) NextProcessingTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, t := range s.timers {
		if t.Domain != trigger.ProcessingTime {
			continue
		}
		if !found || t.At.Before(earliest) {
			earliest = t.At
			found = true
		}
	}
	return earliest, found
}

// Len returns the number of pending timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
