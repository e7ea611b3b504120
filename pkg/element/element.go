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

// Package element defines the records that cross the engine boundary: the
// timestamped keyed elements delivered by the upstream layer and the
// aggregated panes emitted downstream. The engine never interprets the
// value bytes, interpretation belongs to the combiner or the sink.
package element

import (
	"strings"
	"time"

	"github.com/rivulet-io/rivulet/pkg/partition"
)

// delimiter joins the key fields into the combined key used for slotting.
var delimiter = ":"

// Element is one keyed, timestamped record delivered to the engine.
type Element struct {
	// Keys are the grouping keys of the record.
	Keys []string
	// Value is the opaque payload.
	Value []byte
	// EventTime is the time the event occurred at the source.
	EventTime time.Time
}

// CombinedKey returns the key fields joined into a single slot key.
func (e *Element) CombinedKey() string {
	return strings.Join(e.Keys, delimiter)
}

// SplitKey recovers the key fields from a combined slot key.
func SplitKey(slot string) []string {
	return strings.Split(slot, delimiter)
}

// Timing describes where a pane firing sits relative to the watermark
// passing the end of its window.
type Timing int

const (
	// Early panes fire before the watermark reaches the end of the window.
	Early Timing = iota
	// OnTime is the single pane produced when the watermark passes the end
	// of the window.
	OnTime
	// Late panes fire after the on-time pane, driven by late data.
	Late
)

func (t Timing) String() string {
	switch t {
	case Early:
		return "EARLY"
	case OnTime:
		return "ON_TIME"
	case Late:
		return "LATE"
	default:
		return "UNKNOWN"
	}
}

// PaneInfo annotates an emitted pane with its position in the firing
// sequence of its window.
type PaneInfo struct {
	// IsFirst is true for the first pane of the window.
	IsFirst bool
	// IsLast is true when no further pane can follow (trigger finished or
	// the window was garbage collected).
	IsLast bool
	// Index is the zero based sequence number of the pane.
	Index int64
	// Timing relative to the watermark.
	Timing Timing
}

// Pane is one emitted aggregation result for a (key, window).
type Pane struct {
	// Keys are the grouping keys the pane belongs to.
	Keys []string
	// Window identifies the window (and slot) the pane was extracted from.
	Window partition.ID
	// Values holds the buffered raw values when no combiner is configured.
	Values [][]byte
	// Value holds the combiner output when a combiner is configured.
	Value []byte
	// SideInput is the snapshot of the window's broadcast view at emit
	// time, when the computation has one attached.
	SideInput []byte
	// OutputTime is the timestamp assigned to the pane by the strategy's
	// output time policy.
	OutputTime time.Time
	// Info carries the pane sequence metadata.
	Info PaneInfo
}
