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

// Package partition identifies the per-(key, window) unit of state. A
// partition is a tuple of the window's (start, end) interval and the key
// slot, and is the handle used to address the state store and the timer
// service. Merging windowers rewrite partitions when windows grow.
package partition

import (
	"fmt"
	"time"
)

// ID uniquely identifies a (key, window) partition.
type ID struct {
	Start time.Time
	End   time.Time
	// Slot is the key (or a hash-range of keys) the partition belongs to.
	Slot string
}

func (p ID) String() string {
	return fmt.Sprintf("%v-%v-%s", p.Start.UnixMilli(), p.End.UnixMilli(), p.Slot)
}

// Equals compares two partition IDs by wall-clock instants and slot.
func (p ID) Equals(other ID) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End) && p.Slot == other.Slot
}
