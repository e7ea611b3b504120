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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rivulet-io/rivulet/pkg/metrics"
)

var (
	elementsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "elements_processed_total",
		Help:      "Total number of elements accepted into a window pane",
	}, []string{metrics.LabelComputation})

	elementsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "elements_dropped_total",
		Help:      "Total number of elements dropped instead of admitted",
	}, []string{metrics.LabelComputation, metrics.LabelReason})

	panesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "panes_emitted_total",
		Help:      "Total number of panes emitted downstream",
	}, []string{metrics.LabelComputation})

	windowsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "windows_merged_total",
		Help:      "Total number of window merges applied",
	}, []string{metrics.LabelComputation})

	windowsGCed = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "windows_gc_total",
		Help:      "Total number of windows garbage collected",
	}, []string{metrics.LabelComputation})

	timersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "reduce",
		Name:      "timers_fired_total",
		Help:      "Total number of timers delivered into the reducer",
	}, []string{metrics.LabelComputation, metrics.LabelTimeDomain})
)

const (
	dropReasonLate     = "late"
	dropReasonFinished = "window_finished"
)
