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

package commands

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rivulet-io/rivulet/pkg/combiner"
	"github.com/rivulet-io/rivulet/pkg/element"
	"github.com/rivulet-io/rivulet/pkg/engine"
	"github.com/rivulet-io/rivulet/pkg/logging"
	"github.com/rivulet-io/rivulet/pkg/state/memory"
	"github.com/rivulet-io/rivulet/pkg/window"
	"github.com/rivulet-io/rivulet/pkg/window/strategy/fixed"
)

// demoSource generates keyed counter events with slightly out of order
// timestamps and a trailing watermark.
type demoSource struct {
	keys      []string
	remaining int
	eventTime time.Time
	rng       *rand.Rand
}

func (d *demoSource) Read(_ context.Context) (*engine.Event, error) {
	if d.remaining == 0 {
		return nil, nil
	}
	d.remaining--
	d.eventTime = d.eventTime.Add(time.Duration(d.rng.Intn(200)) * time.Millisecond)
	// deliver out of order within a small skew
	skew := time.Duration(d.rng.Intn(500)) * time.Millisecond
	ev := &engine.Event{
		Element: &element.Element{
			Keys:      []string{d.keys[d.rng.Intn(len(d.keys))]},
			Value:     []byte(strconv.Itoa(d.rng.Intn(10))),
			EventTime: d.eventTime.Add(-skew),
		},
		Watermark: d.eventTime.Add(-time.Second),
	}
	return ev, nil
}

// stdoutSink prints emitted panes.
type stdoutSink struct{}

func (stdoutSink) Write(_ context.Context, panes []*element.Pane) error {
	for _, p := range panes {
		fmt.Printf("pane key=%v window=[%v,%v) value=%s time=%v pane=%d timing=%v\n",
			p.Keys, p.Window.Start.UnixMilli(), p.Window.End.UnixMilli(),
			string(p.Value), p.OutputTime.UnixMilli(), p.Info.Index, p.Info.Timing)
	}
	return nil
}

// NewDemoCommand runs a bundled fixed window sum pipeline against a
// generated source, mainly useful to smoke test the engine and inspect
// its metrics.
func NewDemoCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "demo",
		Short: "Run a demo fixed-window sum pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger().Named("demo")
			ctx := logging.WithLogger(cmd.Context(), logger)

			windowLength := viper.GetDuration("demo-window")
			count := viper.GetInt("demo-count")
			metricsAddr := viper.GetString("demo-metrics-addr")

			windower, err := fixed.NewFixed(windowLength)
			if err != nil {
				return err
			}
			strategy, err := window.NewStrategy(windower,
				window.WithAllowedLateness(time.Second),
				window.WithOutputTimeFn(window.EndOfWindow),
			)
			if err != nil {
				return err
			}

			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					logger.Errorw("Metrics server failed", "error", err)
				}
			}()

			source := &demoSource{
				keys:      []string{"alpha", "beta", "gamma"},
				remaining: count,
				eventTime: time.Now(),
				rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
			}
			e, err := engine.New("demo", strategy, memory.NewStore(), source, stdoutSink{}, combiner.Sum{}, nil)
			if err != nil {
				return err
			}
			logger.Infow("Running demo pipeline", "window", windowLength.String(), "count", count)
			return e.Run(ctx)
		},
	}
	command.Flags().Duration("demo-window", 10*time.Second, "Fixed window length")
	command.Flags().Int("demo-count", 1000, "Number of generated elements")
	command.Flags().String("demo-metrics-addr", ":2469", "Prometheus metrics listen address")
	_ = viper.BindPFlag("demo-window", command.Flags().Lookup("demo-window"))
	_ = viper.BindPFlag("demo-count", command.Flags().Lookup("demo-count"))
	_ = viper.BindPFlag("demo-metrics-addr", command.Flags().Lookup("demo-metrics-addr"))
	return command
}
