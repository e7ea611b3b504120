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

// Package engine wires a source, the grouping reducer and a sink into a
// running computation. Elements are sharded by key hash so one key's state
// is mutated by exactly one goroutine while distinct keys progress in
// parallel; watermark advances are broadcast to every shard. Each shard
// works in bundles: the state mutations and emitted panes of a bundle
// become visible all or nothing when the bundle commits.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/rivulet-io/rivulet/pkg/combiner"
	"github.com/rivulet-io/rivulet/pkg/element"
	"github.com/rivulet-io/rivulet/pkg/logging"
	"github.com/rivulet-io/rivulet/pkg/reduce"
	"github.com/rivulet-io/rivulet/pkg/sideinput"
	"github.com/rivulet-io/rivulet/pkg/state"
	"github.com/rivulet-io/rivulet/pkg/timers"
	"github.com/rivulet-io/rivulet/pkg/window"
	"github.com/rivulet-io/rivulet/pkg/wmark"
)

// Event is one input to the computation: an element, a watermark advance,
// or both when the source attaches the watermark observed at read time.
type Event struct {
	Element   *element.Element
	Watermark time.Time
}

// Source delivers events. Read blocks until an event is available and
// returns a nil event when the source is exhausted.
type Source interface {
	Read(ctx context.Context) (*Event, error)
}

// Sink receives the emitted panes of one bundle.
type Sink interface {
	Write(ctx context.Context, panes []*element.Pane) error
}

// writeBackoff retries sink writes and state commits until the engine is
// shut down.
var writeBackoff = wait.Backoff{
	Steps:    math.MaxInt32,
	Duration: 100 * time.Millisecond,
	Factor:   1.5,
	Jitter:   0.1,
	Cap:      10 * time.Second,
}

// Options tune the engine.
type Options struct {
	// Shards is the number of parallel key partitions.
	Shards int
	// MaxBundleSize flushes a bundle once it holds this many events.
	MaxBundleSize int
	// BundleTimeout flushes a non-empty bundle after this much processing
	// time, and is also the cadence of processing time timer evaluation.
	BundleTimeout time.Duration
	// Clock drives processing time, replaceable in tests.
	Clock clockz.Clock
	// SideInput is an optional broadcast view; emitted panes carry its
	// per window snapshot.
	SideInput sideinput.Accessor
}

func defaultOptions() Options {
	return Options{
		Shards:        4,
		MaxBundleSize: 100,
		BundleTimeout: 100 * time.Millisecond,
		Clock:         clockz.RealClock,
	}
}

// Engine runs one windowed computation.
type Engine struct {
	computation string
	strategy    *window.Strategy
	store       state.Store
	source      Source
	sink        Sink
	opts        Options
	combiner    combiner.Combiner

	shards []*shard
}

// New builds the engine. A nil combiner buffers raw elements.
func New(computation string, strategy *window.Strategy, store state.Store, source Source, sink Sink, comb combiner.Combiner, opts *Options) (*Engine, error) {
	o := defaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.Shards <= 0 {
		return nil, fmt.Errorf("engine requires at least one shard, got %d", o.Shards)
	}
	if o.MaxBundleSize <= 0 {
		return nil, fmt.Errorf("engine requires a positive bundle size, got %d", o.MaxBundleSize)
	}
	if o.Clock == nil {
		o.Clock = clockz.RealClock
	}

	e := &Engine{
		computation: computation,
		strategy:    strategy,
		store:       store,
		source:      source,
		sink:        sink,
		opts:        o,
		combiner:    comb,
	}
	for i := 0; i < o.Shards; i++ {
		s, err := newShard(e, i)
		if err != nil {
			return nil, err
		}
		e.shards = append(e.shards, s)
	}
	return e, nil
}

// OutputWatermark returns the watermark visible downstream, the minimum
// across the shards' held output watermarks.
func (e *Engine) OutputWatermark() wmark.Watermark {
	min := wmark.Watermark(time.UnixMilli(math.MaxInt64))
	for _, s := range e.shards {
		out := s.gabw.Tracker().Output()
		if out.Before(min.Time()) {
			min = out
		}
	}
	return min
}

// Run consumes the source until exhaustion, context cancellation or a
// shard failure. It returns after every shard has flushed its final
// bundle; a failed shard cancels the read loop so the failure surfaces
// instead of wedging the routing channels.
func (e *Engine) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).With("computation", e.computation)
	log.Infow("Starting engine", "shards", e.opts.Shards, "strategy", e.strategy.Windower.Kind().String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(e.shards))
	for _, s := range e.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			if err := s.run(runCtx); err != nil {
				errCh <- fmt.Errorf("shard %d: %w", s.index, err)
				cancel()
			}
		}(s)
	}

	readErr := e.readLoop(runCtx)
	for _, s := range e.shards {
		close(s.events)
	}
	wg.Wait()
	close(errCh)

	// a shard failure is the root cause: sibling shards and the read loop
	// only see the cancellation it triggered.
	var shardErr error
	for err := range errCh {
		if shardErr == nil || errors.Is(shardErr, context.Canceled) {
			shardErr = err
		}
	}
	if shardErr != nil && !errors.Is(shardErr, context.Canceled) {
		return shardErr
	}
	if readErr != nil {
		return readErr
	}
	return shardErr
}

// readLoop pulls events from the source and routes them: elements to the
// owning shard, watermark advances to every shard.
func (e *Engine) readLoop(ctx context.Context) error {
	for {
		ev, err := e.source.Read(ctx)
		if err != nil {
			return fmt.Errorf("source read failed: %w", err)
		}
		if ev == nil {
			return nil
		}
		if ev.Element != nil {
			s := e.shards[e.shardFor(ev.Element.CombinedKey())]
			select {
			case s.events <- &shardEvent{element: ev.Element}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !ev.Watermark.IsZero() {
			for _, s := range e.shards {
				select {
				case s.events <- &shardEvent{watermark: ev.Watermark}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (e *Engine) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(e.shards)))
}

// shardEvent is the unit delivered into a shard's serialized loop, either
// an element or a watermark advance.
type shardEvent struct {
	element   *element.Element
	watermark time.Time
}

// shard owns a hash range of keys. All of its state transitions happen on
// its own goroutine.
type shard struct {
	index  int
	engine *Engine
	gabw   *reduce.GroupAlsoByWindow
	events chan *shardEvent
}

func newShard(e *Engine, index int) (*shard, error) {
	var opts []reduce.Option
	if e.combiner != nil {
		opts = append(opts, reduce.WithCombiner(e.combiner))
	}
	if e.opts.SideInput != nil {
		opts = append(opts, reduce.WithSideInput(e.opts.SideInput))
	}
	opts = append(opts, reduce.WithClock(e.opts.Clock))
	gabw, err := reduce.NewGroupAlsoByWindow(
		e.computation,
		e.strategy,
		timers.NewService(e.opts.Clock),
		wmark.NewTracker(),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	return &shard{
		index:  index,
		engine: e,
		gabw:   gabw,
		events: make(chan *shardEvent, e.opts.MaxBundleSize),
	}, nil
}

// bundleEmitter buffers the panes of one bundle so nothing reaches the
// sink if the bundle is abandoned.
type bundleEmitter struct {
	panes []*element.Pane
}

func (b *bundleEmitter) Emit(_ context.Context, pane *element.Pane) error {
	b.panes = append(b.panes, pane)
	return nil
}

func (s *shard) run(ctx context.Context) error {
	log := logging.FromContext(ctx).With("computation", s.engine.computation, "shard", s.index)
	ticker := s.engine.opts.Clock.NewTicker(s.engine.opts.BundleTimeout)
	defer ticker.Stop()

	batch := make([]*shardEvent, 0, s.engine.opts.MaxBundleSize)
	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				// source exhausted, flush what is pending.
				return s.flush(ctx, batch)
			}
			batch = append(batch, ev)
			if len(batch) >= s.engine.opts.MaxBundleSize {
				if err := s.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		case <-ticker.C():
			if err := s.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		case <-ctx.Done():
			// abandoned mid bundle: no partial state or output is
			// written.
			log.Infow("Shard abandoned", "pending", len(batch))
			return ctx.Err()
		}
	}
}

// flush processes one bundle against a fresh unit of work and commits it.
// Processing time timers are evaluated on every flush so a quiet shard
// still fires them.
func (s *shard) flush(ctx context.Context, batch []*shardEvent) error {
	uow := state.NewUnitOfWork(uuid.NewString(), s.engine.store)
	em := &bundleEmitter{}

	process := func() error {
		for _, ev := range batch {
			if ev.element != nil {
				if err := s.gabw.ProcessElement(ctx, uow, em, ev.element); err != nil {
					return err
				}
			}
			if !ev.watermark.IsZero() {
				if err := s.gabw.AdvanceWatermark(ctx, uow, em, ev.watermark); err != nil {
					return err
				}
			}
		}
		return s.gabw.FireProcessingTimeTimers(ctx, uow, em)
	}
	if err := process(); err != nil {
		uow.Abandon()
		return fmt.Errorf("bundle %s failed: %w", uow.ID, err)
	}

	if len(em.panes) > 0 {
		if err := s.retry(ctx, func() error { return s.engine.sink.Write(ctx, em.panes) }); err != nil {
			uow.Abandon()
			return fmt.Errorf("bundle %s: sink write failed: %w", uow.ID, err)
		}
	}
	if err := s.retry(ctx, func() error { return uow.Commit(ctx) }); err != nil {
		uow.Abandon()
		return fmt.Errorf("bundle %s: state commit failed: %w", uow.ID, err)
	}
	return nil
}

func (s *shard) retry(ctx context.Context, op func() error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, writeBackoff, func(_ context.Context) (bool, error) {
		if err := op(); err != nil {
			lastErr = err
			logging.FromContext(ctx).Warnw("Retryable operation failed", "shard", s.index, "error", err)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
