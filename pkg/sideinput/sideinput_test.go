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

package sideinput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_PublishAndValue(t *testing.T) {
	b := NewBroadcast()
	w := time.UnixMilli(60_000)

	_, ok := b.Value(w)
	assert.False(t, ok)

	b.Publish(w, []byte("v0"))
	snap, ok := b.Value(w)
	require.True(t, ok)
	assert.Equal(t, "v0", string(snap.Value))
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, w, snap.WindowStart)
}

func TestBroadcast_RepublishBumpsVersion(t *testing.T) {
	b := NewBroadcast()
	w := time.UnixMilli(60_000)

	b.Publish(w, []byte("v0"))
	b.Publish(w, []byte("v1"))

	snap, ok := b.Value(w)
	require.True(t, ok)
	assert.Equal(t, "v1", string(snap.Value))
	assert.Equal(t, int64(1), snap.Version)
}

func TestBroadcast_WindowsAreIndependent(t *testing.T) {
	b := NewBroadcast()
	w1 := time.UnixMilli(0)
	w2 := time.UnixMilli(60_000)

	b.Publish(w1, []byte("one"))
	b.Publish(w2, []byte("two"))

	s1, ok := b.Value(w1)
	require.True(t, ok)
	s2, ok := b.Value(w2)
	require.True(t, ok)
	assert.Equal(t, "one", string(s1.Value))
	assert.Equal(t, "two", string(s2.Value))
	assert.Equal(t, int64(0), s2.Version)
}

func TestBroadcast_Drop(t *testing.T) {
	b := NewBroadcast()
	w := time.UnixMilli(0)

	b.Publish(w, []byte("x"))
	b.Drop(w)

	_, ok := b.Value(w)
	assert.False(t, ok)

	// a republish after a drop starts versioning over
	snap := b.Publish(w, []byte("y"))
	assert.Equal(t, int64(0), snap.Version)
}
