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

package combiner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addAll(t *testing.T, c Combiner, values ...string) []byte {
	t.Helper()
	acc := c.CreateAccumulator()
	var err error
	for _, v := range values {
		acc, err = c.AddInput(acc, []byte(v))
		require.NoError(t, err)
	}
	return acc
}

func TestSum(t *testing.T) {
	acc := addAll(t, Sum{}, "1", "2", "39")
	out, err := Sum{}.ExtractOutput(acc)
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))

	_, err = Sum{}.AddInput(acc, []byte("not-a-number"))
	assert.Error(t, err)
}

func TestSum_MergeAccumulators(t *testing.T) {
	a := addAll(t, Sum{}, "1", "2")
	b := addAll(t, Sum{}, "3")
	merged, err := Sum{}.MergeAccumulators([][]byte{a, b})
	require.NoError(t, err)
	out, err := Sum{}.ExtractOutput(merged)
	require.NoError(t, err)
	assert.Equal(t, "6", string(out))
}

func TestCount(t *testing.T) {
	acc := addAll(t, Count{}, "x", "y", "z")
	out, err := Count{}.ExtractOutput(acc)
	require.NoError(t, err)
	assert.Equal(t, "3", string(out))
}

func TestMean(t *testing.T) {
	acc := addAll(t, Mean{}, "2", "4", "6")
	out, err := Mean{}.ExtractOutput(acc)
	require.NoError(t, err)
	assert.Equal(t, "4", string(out))

	// extraction does not consume the accumulator
	var err2 error
	acc, err2 = Mean{}.AddInput(acc, []byte("8"))
	require.NoError(t, err2)
	out, err = Mean{}.ExtractOutput(acc)
	require.NoError(t, err)
	assert.Equal(t, "5", string(out))
}

func TestMean_MergeAccumulators(t *testing.T) {
	a := addAll(t, Mean{}, "1", "2")
	b := addAll(t, Mean{}, "9")
	merged, err := Mean{}.MergeAccumulators([][]byte{a, b})
	require.NoError(t, err)
	out, err := Mean{}.ExtractOutput(merged)
	require.NoError(t, err)
	assert.Equal(t, "4", string(out))
}

func TestMean_EmptyAccumulator(t *testing.T) {
	out, err := Mean{}.ExtractOutput(Mean{}.CreateAccumulator())
	require.NoError(t, err)
	assert.Equal(t, "0", string(out))
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"sum", "count", "mean"} {
		c, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	_, err := Lookup("median")
	assert.Error(t, err)
}

func TestCommutativity(t *testing.T) {
	forward := addAll(t, Sum{}, "1", "2", "3", "4")
	backward := addAll(t, Sum{}, "4", "3", "2", "1")
	assert.Equal(t, forward, backward)
}
