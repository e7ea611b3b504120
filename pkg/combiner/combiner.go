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

// Package combiner defines the incremental combine contract used by the
// reducer to bound memory: instead of buffering raw elements, a commutative
// and associative reducer folds them into a small accumulator. Accumulators
// must survive the state store, so the contract includes an encode/decode
// pair.
package combiner

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Combiner folds element values into an accumulator. AddInput and
// MergeAccumulators must be commutative and associative so that pane
// contents are deterministic regardless of arrival order and of how
// windows were merged.
type Combiner interface {
	// Name identifies the combiner in configuration blobs.
	Name() string
	// CreateAccumulator returns an empty accumulator.
	CreateAccumulator() []byte
	// AddInput folds one element value into the accumulator and returns
	// the updated accumulator.
	AddInput(accumulator []byte, value []byte) ([]byte, error)
	// MergeAccumulators combines several accumulators into one, used when
	// windows merge.
	MergeAccumulators(accumulators [][]byte) ([]byte, error)
	// ExtractOutput converts the accumulator into the emitted value. The
	// accumulator stays valid afterwards, extraction must not mutate it.
	ExtractOutput(accumulator []byte) ([]byte, error)
}

// Registry resolves combiner names from configuration blobs.
var registry = map[string]Combiner{}

// Register installs a combiner under its name.
func Register(c Combiner) {
	registry[c.Name()] = c
}

// Lookup resolves a combiner by name.
func Lookup(name string) (Combiner, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no combiner registered under %q", name)
	}
	return c, nil
}

func init() {
	Register(Sum{})
	Register(Count{})
	Register(Mean{})
}

// Sum combines decimal-encoded integers into their sum.
type Sum struct{}

func (Sum) Name() string { return "sum" }

func (Sum) CreateAccumulator() []byte { return []byte("0") }

func (Sum) AddInput(acc []byte, value []byte) ([]byte, error) {
	a, err := parseInt(acc)
	if err != nil {
		return nil, err
	}
	v, err := parseInt(value)
	if err != nil {
		return nil, err
	}
	return formatInt(a + v), nil
}

func (s Sum) MergeAccumulators(accs [][]byte) ([]byte, error) {
	var total int64
	for _, acc := range accs {
		a, err := parseInt(acc)
		if err != nil {
			return nil, err
		}
		total += a
	}
	return formatInt(total), nil
}

func (Sum) ExtractOutput(acc []byte) ([]byte, error) {
	if _, err := parseInt(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Count counts elements, ignoring their values.
type Count struct{}

func (Count) Name() string { return "count" }

func (Count) CreateAccumulator() []byte { return []byte("0") }

func (Count) AddInput(acc []byte, _ []byte) ([]byte, error) {
	a, err := parseInt(acc)
	if err != nil {
		return nil, err
	}
	return formatInt(a + 1), nil
}

func (c Count) MergeAccumulators(accs [][]byte) ([]byte, error) {
	return Sum{}.MergeAccumulators(accs)
}

func (Count) ExtractOutput(acc []byte) ([]byte, error) {
	if _, err := parseInt(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// meanAccumulator is the (sum, count) pair backing Mean.
type meanAccumulator struct {
	Sum   int64 `json:"sum"`
	Count int64 `json:"count"`
}

// Mean combines decimal-encoded integers into their arithmetic mean,
// carried as a (sum, count) pair so merges stay exact.
type Mean struct{}

func (Mean) Name() string { return "mean" }

func (Mean) CreateAccumulator() []byte {
	b, _ := json.Marshal(meanAccumulator{})
	return b
}

func (Mean) AddInput(acc []byte, value []byte) ([]byte, error) {
	var ma meanAccumulator
	if err := json.Unmarshal(acc, &ma); err != nil {
		return nil, fmt.Errorf("failed to decode mean accumulator: %w", err)
	}
	v, err := parseInt(value)
	if err != nil {
		return nil, err
	}
	ma.Sum += v
	ma.Count++
	return json.Marshal(ma)
}

func (Mean) MergeAccumulators(accs [][]byte) ([]byte, error) {
	var merged meanAccumulator
	for _, acc := range accs {
		var ma meanAccumulator
		if err := json.Unmarshal(acc, &ma); err != nil {
			return nil, fmt.Errorf("failed to decode mean accumulator: %w", err)
		}
		merged.Sum += ma.Sum
		merged.Count += ma.Count
	}
	return json.Marshal(merged)
}

func (Mean) ExtractOutput(acc []byte) ([]byte, error) {
	var ma meanAccumulator
	if err := json.Unmarshal(acc, &ma); err != nil {
		return nil, fmt.Errorf("failed to decode mean accumulator: %w", err)
	}
	if ma.Count == 0 {
		return []byte("0"), nil
	}
	return formatInt(ma.Sum / ma.Count), nil
}

func parseInt(b []byte) (int64, error) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a decimal integer: %w", string(b), err)
	}
	return v, nil
}

func formatInt(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
