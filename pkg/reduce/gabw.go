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

// Package reduce implements grouping by key and window: elements are
// assigned to windows, merged when the windower merges, folded into the
// pane state and emitted when the trigger fires. All events of one shard,
// element arrivals, watermark advances and timer firings, are delivered
// sequentially into one GroupAlsoByWindow, so per key state is never
// mutated concurrently.
package reduce

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/rivulet-io/rivulet/pkg/combiner"
	"github.com/rivulet-io/rivulet/pkg/element"
	"github.com/rivulet-io/rivulet/pkg/partition"
	"github.com/rivulet-io/rivulet/pkg/sideinput"
	"github.com/rivulet-io/rivulet/pkg/state"
	"github.com/rivulet-io/rivulet/pkg/timers"
	"github.com/rivulet-io/rivulet/pkg/trigger"
	"github.com/rivulet-io/rivulet/pkg/window"
	"github.com/rivulet-io/rivulet/pkg/wmark"
)

// Emitter receives the panes produced by the reducer. Implementations are
// expected to buffer within the surrounding unit of work so an abandoned
// unit emits nothing.
type Emitter interface {
	Emit(ctx context.Context, pane *element.Pane) error
}

// GroupAlsoByWindow is the per shard reducer. It is not safe for
// concurrent use, the engine serializes all calls for a shard.
type GroupAlsoByWindow struct {
	computation string
	strategy    *window.Strategy
	machine     *trigger.Machine
	combiner    combiner.Combiner
	timerSvc    *timers.Service
	tracker     *wmark.Tracker
	windows     *windowSet
	clock       clockz.Clock
	sideInput   sideinput.Accessor
}

// Option customizes a GroupAlsoByWindow.
type Option func(*GroupAlsoByWindow)

// WithCombiner folds elements incrementally instead of buffering them raw.
func WithCombiner(c combiner.Combiner) Option {
	return func(g *GroupAlsoByWindow) {
		g.combiner = c
	}
}

// WithClock overrides the processing time clock, used by tests.
func WithClock(c clockz.Clock) Option {
	return func(g *GroupAlsoByWindow) {
		g.clock = c
	}
}

// WithSideInput attaches a broadcast view to the reducer: every emitted
// pane carries the current snapshot of its window, so downstream consumers
// see the aggregate joined with the globally computed view.
func WithSideInput(acc sideinput.Accessor) Option {
	return func(g *GroupAlsoByWindow) {
		g.sideInput = acc
	}
}

// NewGroupAlsoByWindow builds the reducer for one computation.
func NewGroupAlsoByWindow(computation string, strategy *window.Strategy, timerSvc *timers.Service, tracker *wmark.Tracker, opts ...Option) (*GroupAlsoByWindow, error) {
	machine, err := trigger.NewMachine(strategy.Trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger for computation %s: %w", computation, err)
	}
	g := &GroupAlsoByWindow{
		computation: computation,
		strategy:    strategy,
		machine:     machine,
		timerSvc:    timerSvc,
		tracker:     tracker,
		windows:     newWindowSet(),
		clock:       clockz.RealClock,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Tracker returns the watermark tracker of this reducer.
func (g *GroupAlsoByWindow) Tracker() *wmark.Tracker {
	return g.tracker
}

// ProcessElement assigns the element to its windows, runs merges, folds
// the value into each window's pane and evaluates the trigger.
func (g *GroupAlsoByWindow) ProcessElement(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, el *element.Element) error {
	slot := el.CombinedKey()
	wm := g.tracker.Current()

	for _, assigned := range g.strategy.Windower.AssignWindows(el.EventTime) {
		if g.strategy.IsExpired(assigned, wm.Time()) {
			elementsDropped.WithLabelValues(g.computation, dropReasonLate).Inc()
			continue
		}

		target, _ := g.windows.insert(slot, assigned)
		if merging, ok := g.strategy.Windower.(window.MergingWindower); ok {
			for _, m := range merging.MergeWindows(g.windows.items(slot)) {
				if err := g.applyMerge(ctx, uow, slot, m); err != nil {
					return err
				}
			}
			merged, ok := g.windows.findContaining(slot, el.EventTime)
			if !ok {
				return fmt.Errorf("no active window for %s at %v after merge", slot, el.EventTime)
			}
			target = merged
		}

		if err := g.addToWindow(ctx, uow, emitter, el, slot, target); err != nil {
			return err
		}
	}
	return nil
}

// addToWindow folds one element into one window's pane and evaluates the
// trigger's onElement transition.
func (g *GroupAlsoByWindow) addToWindow(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, el *element.Element, slot string, w *window.IntervalWindow) error {
	pid := w.Partition(slot)

	st, err := g.loadTriggerState(ctx, uow, pid)
	if err != nil {
		return err
	}
	// events on a sealed window are dropped, never propagated.
	if g.machine.IsFinished(st) {
		elementsDropped.WithLabelValues(g.computation, dropReasonFinished).Inc()
		return nil
	}

	if g.combiner != nil {
		acc, ok, err := uow.Get(ctx, pid, tagAccumulator)
		if err != nil {
			return err
		}
		if !ok {
			acc = g.combiner.CreateAccumulator()
		}
		acc, err = g.combiner.AddInput(acc, el.Value)
		if err != nil {
			return fmt.Errorf("combiner %s failed on %s: %w", g.combiner.Name(), pid, err)
		}
		uow.Put(pid, tagAccumulator, acc)
	} else {
		buf, err := marshalBuffered(el.Value, el.EventTime)
		if err != nil {
			return err
		}
		uow.AppendToList(pid, tagElements, buf)
	}

	meta, err := g.loadPaneMeta(ctx, uow, pid)
	if err != nil {
		return err
	}
	meta.observe(el.EventTime)
	if err := g.putPaneMeta(uow, pid, meta); err != nil {
		return err
	}

	// hold the output watermark until this pane is emitted. An on time
	// element holds at its own timestamp; once the watermark passed the
	// end of the window the pane can only be late, so it holds at the end
	// of the window instead of dragging the watermark backwards further.
	wm := g.tracker.Current()
	if wm.Before(w.MaxTimestamp()) {
		g.tracker.AddHold(pid, el.EventTime)
	} else {
		g.tracker.AddHold(pid, w.MaxTimestamp())
	}

	result := g.machine.OnElement(st, el.EventTime, w.MaxTimestamp(), g.clock.Now())
	if err := g.putTriggerState(uow, pid, st); err != nil {
		return err
	}
	g.installTimers(pid, w, st)
	elementsProcessed.WithLabelValues(g.computation).Inc()

	if result.Fires() {
		return g.firePane(ctx, uow, emitter, pid, w, slot, st, result == trigger.FireAndFinish)
	}
	return nil
}

// applyMerge collapses the source windows of one merge instruction into
// the result window: accumulators merge, raw buffers concatenate, trigger
// states reconcile, and the sources' partitions, timers and holds are
// rewritten onto the result. The merged window behaves as if it had
// existed from the start for all buffered data.
func (g *GroupAlsoByWindow) applyMerge(ctx context.Context, uow *state.UnitOfWork, slot string, m window.Merge) error {
	var (
		trigStates []*trigger.State
		metas      []*paneMeta
		accs       [][]byte
		buffered   [][]byte
	)
	for _, src := range m.Sources {
		spid := src.Partition(slot)
		st, err := g.loadTriggerState(ctx, uow, spid)
		if err != nil {
			return err
		}
		trigStates = append(trigStates, st)
		meta, err := g.loadPaneMeta(ctx, uow, spid)
		if err != nil {
			return err
		}
		metas = append(metas, meta)
		if g.combiner != nil {
			acc, ok, err := uow.Get(ctx, spid, tagAccumulator)
			if err != nil {
				return err
			}
			if ok {
				accs = append(accs, acc)
			}
		} else {
			entries, err := uow.ReadList(ctx, spid, tagElements)
			if err != nil {
				return err
			}
			buffered = append(buffered, entries...)
		}
	}

	for _, src := range m.Sources {
		spid := src.Partition(slot)
		uow.PurgePartition(spid)
		g.timerSvc.DeletePartition(spid)
		g.tracker.ReleaseHold(spid)
		g.windows.remove(slot, src)
	}

	rpid := m.Result.Partition(slot)
	mergedSt := g.machine.OnMerge(trigStates)
	mergedMeta := mergePaneMetas(metas)
	if err := g.putTriggerState(uow, rpid, mergedSt); err != nil {
		return err
	}
	if err := g.putPaneMeta(uow, rpid, mergedMeta); err != nil {
		return err
	}
	if g.combiner != nil {
		if len(accs) > 0 {
			merged, err := g.combiner.MergeAccumulators(accs)
			if err != nil {
				return fmt.Errorf("failed to merge accumulators into %s: %w", rpid, err)
			}
			uow.Put(rpid, tagAccumulator, merged)
		}
	} else {
		for _, entry := range buffered {
			uow.AppendToList(rpid, tagElements, entry)
		}
	}

	g.windows.insert(slot, m.Result)
	if mergedMeta.Count > 0 {
		wm := g.tracker.Current()
		if wm.Before(m.Result.MaxTimestamp()) {
			g.tracker.AddHold(rpid, mergedMeta.earliest())
		} else {
			g.tracker.AddHold(rpid, m.Result.MaxTimestamp())
		}
	}
	g.installTimers(rpid, m.Result, mergedSt)
	windowsMerged.WithLabelValues(g.computation).Inc()
	return nil
}

// AdvanceWatermark moves event time forward and delivers the event time
// timers that became due, trigger transitions first, garbage collection
// after, in deterministic order.
func (g *GroupAlsoByWindow) AdvanceWatermark(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, wm time.Time) error {
	current := g.tracker.Advance(wm)
	for _, t := range g.timerSvc.FireEventTime(current.Time()) {
		timersFired.WithLabelValues(g.computation, t.Domain.String()).Inc()
		var err error
		if t.Tag == timerTagGC {
			err = g.collectWindow(ctx, uow, emitter, t.Partition)
		} else {
			err = g.onTriggerTimer(ctx, uow, emitter, t)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FireProcessingTimeTimers delivers the processing time timers that are
// due at the clock's current time.
func (g *GroupAlsoByWindow) FireProcessingTimeTimers(ctx context.Context, uow *state.UnitOfWork, emitter Emitter) error {
	for _, t := range g.timerSvc.FireProcessingTime() {
		timersFired.WithLabelValues(g.computation, t.Domain.String()).Inc()
		if err := g.onTriggerTimer(ctx, uow, emitter, t); err != nil {
			return err
		}
	}
	return nil
}

// onTriggerTimer delivers one fired timer into the trigger machine.
func (g *GroupAlsoByWindow) onTriggerTimer(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, t timers.Timer) error {
	pid := t.Partition
	w := window.NewIntervalWindow(pid.Start, pid.End)

	st, err := g.loadTriggerState(ctx, uow, pid)
	if err != nil {
		return err
	}
	// a timer on a sealed window is stale, drop it.
	if g.machine.IsFinished(st) {
		return nil
	}

	result := g.machine.OnTimer(st, t.Domain, t.At, w.MaxTimestamp())
	if err := g.putTriggerState(uow, pid, st); err != nil {
		return err
	}
	g.installTimers(pid, w, st)

	if result.Fires() {
		return g.firePane(ctx, uow, emitter, pid, w, pid.Slot, st, result == trigger.FireAndFinish)
	}
	return nil
}

// collectWindow is the garbage collection path: emit a final pane when
// unflushed data remains and the trigger never finished, then purge the
// partition's state, timers and hold unconditionally.
func (g *GroupAlsoByWindow) collectWindow(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, pid partition.ID) error {
	w := window.NewIntervalWindow(pid.Start, pid.End)

	st, err := g.loadTriggerState(ctx, uow, pid)
	if err != nil {
		return err
	}
	meta, err := g.loadPaneMeta(ctx, uow, pid)
	if err != nil {
		return err
	}
	if !g.machine.IsFinished(st) && meta.Count > meta.EmittedCount {
		if err := g.firePane(ctx, uow, emitter, pid, w, pid.Slot, st, true); err != nil {
			return err
		}
	}

	uow.PurgePartition(pid)
	g.timerSvc.DeletePartition(pid)
	g.tracker.ReleaseHold(pid)
	g.windows.remove(pid.Slot, w)
	windowsGCed.WithLabelValues(g.computation).Inc()
	return nil
}

// firePane extracts the pane, emits it and applies the accumulation mode.
// finish seals the window afterwards.
func (g *GroupAlsoByWindow) firePane(ctx context.Context, uow *state.UnitOfWork, emitter Emitter, pid partition.ID, w *window.IntervalWindow, slot string, st *trigger.State, finish bool) error {
	meta, err := g.loadPaneMeta(ctx, uow, pid)
	if err != nil {
		return err
	}

	if meta.Count > 0 {
		pane := &element.Pane{
			Keys:       element.SplitKey(slot),
			Window:     pid,
			OutputTime: g.strategy.OutputTime(w, meta.earliest(), meta.latest()),
		}
		if g.sideInput != nil {
			if snap, ok := g.sideInput.Value(w.Start); ok {
				pane.SideInput = snap.Value
			}
		}
		if g.combiner != nil {
			acc, ok, err := uow.Get(ctx, pid, tagAccumulator)
			if err != nil {
				return err
			}
			if !ok {
				acc = g.combiner.CreateAccumulator()
			}
			out, err := g.combiner.ExtractOutput(acc)
			if err != nil {
				return fmt.Errorf("combiner %s failed to extract %s: %w", g.combiner.Name(), pid, err)
			}
			pane.Value = out
		} else {
			entries, err := uow.ReadList(ctx, pid, tagElements)
			if err != nil {
				return err
			}
			values := make([][]byte, 0, len(entries))
			for _, e := range entries {
				be, err := unmarshalBuffered(e)
				if err != nil {
					return err
				}
				values = append(values, be.Value)
			}
			pane.Values = values
		}

		wm := g.tracker.Current()
		var timing element.Timing
		switch {
		case wm.Before(w.MaxTimestamp()):
			timing = element.Early
		case !meta.OnTimeEmitted:
			timing = element.OnTime
			meta.OnTimeEmitted = true
		default:
			timing = element.Late
		}
		pane.Info = element.PaneInfo{
			IsFirst: meta.Index == 0,
			IsLast:  finish,
			Index:   meta.Index,
			Timing:  timing,
		}

		if err := emitter.Emit(ctx, pane); err != nil {
			return fmt.Errorf("failed to emit pane for %s: %w", pid, err)
		}
		panesEmitted.WithLabelValues(g.computation).Inc()

		meta.Index++
		meta.EmittedCount = meta.Count
		if g.strategy.AccumulationMode == window.Discard {
			meta.clearPane()
			if g.combiner != nil {
				uow.Delete(pid, tagAccumulator)
			} else {
				uow.ClearList(pid, tagElements)
			}
		}
		if err := g.putPaneMeta(uow, pid, meta); err != nil {
			return err
		}
	}

	// the pane is out, nothing pending keeps the output watermark back.
	g.tracker.ReleaseHold(pid)

	if finish {
		st.Finished = true
		if err := g.putTriggerState(uow, pid, st); err != nil {
			return err
		}
		g.timerSvc.Delete(pid, trigger.EventTime, timerTagTrigger)
		g.timerSvc.Delete(pid, trigger.ProcessingTime, timerTagProcessing)
	}
	return nil
}

// installTimers arms the timers the trigger state currently needs plus the
// garbage collection timer. Setting a timer is idempotent.
func (g *GroupAlsoByWindow) installTimers(pid partition.ID, w *window.IntervalWindow, st *trigger.State) {
	var earliestPT time.Time
	havePT := false
	for _, req := range g.machine.TimerRequests(st, w.MaxTimestamp()) {
		switch req.Domain {
		case trigger.EventTime:
			g.timerSvc.Set(timers.Timer{Partition: pid, Domain: trigger.EventTime, Tag: timerTagTrigger, At: req.At})
		case trigger.ProcessingTime:
			if !havePT || req.At.Before(earliestPT) {
				earliestPT = req.At
				havePT = true
			}
		}
	}
	if havePT {
		g.timerSvc.Set(timers.Timer{Partition: pid, Domain: trigger.ProcessingTime, Tag: timerTagProcessing, At: earliestPT})
	}
	g.timerSvc.Set(timers.Timer{Partition: pid, Domain: trigger.EventTime, Tag: timerTagGC, At: g.strategy.GCTime(w)})
}

func (g *GroupAlsoByWindow) loadTriggerState(ctx context.Context, uow *state.UnitOfWork, pid partition.ID) (*trigger.State, error) {
	b, ok, err := uow.Get(ctx, pid, tagTrigger)
	if err != nil {
		return nil, err
	}
	if !ok {
		return g.machine.NewState(), nil
	}
	return trigger.UnmarshalState(b)
}

func (g *GroupAlsoByWindow) putTriggerState(uow *state.UnitOfWork, pid partition.ID, st *trigger.State) error {
	b, err := trigger.MarshalState(st)
	if err != nil {
		return err
	}
	uow.Put(pid, tagTrigger, b)
	return nil
}

func (g *GroupAlsoByWindow) loadPaneMeta(ctx context.Context, uow *state.UnitOfWork, pid partition.ID) (*paneMeta, error) {
	b, ok, err := uow.Get(ctx, pid, tagPane)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &paneMeta{}, nil
	}
	return unmarshalPaneMeta(b)
}

func (g *GroupAlsoByWindow) putPaneMeta(uow *state.UnitOfWork, pid partition.ID, meta *paneMeta) error {
	b, err := marshalPaneMeta(meta)
	if err != nil {
		return err
	}
	uow.Put(pid, tagPane, b)
	return nil
}
