// Copyright 2025 Karthala Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomStorageDefaults(t *testing.T) {
	s := NewBloomStorage(0, 0)
	assert.Equal(t, uint(DefaultBloomCapacity), s.capacity)
	assert.Equal(t, DefaultBloomFPRate, s.fpRate)

	s = NewBloomStorage(500, 0.01)
	assert.Equal(t, uint(500), s.capacity)
	assert.Equal(t, 0.01, s.fpRate)

	s = NewBloomStorage(100, 1.5)
	assert.Equal(t, DefaultBloomFPRate, s.fpRate, "out-of-range rate falls back")
}

// The filter must never forget a recorded key: a crawl that re-fetches a
// visited URL breaks the once-only guarantee.
func TestBloomStorageNoFalseNegatives(t *testing.T) {
	s := NewBloomStorage(100_000, 0.0001)
	require.NoError(t, s.Init())

	for key := uint64(0); key < 10_000; key++ {
		require.NoError(t, s.Visited(key))
	}
	for key := uint64(0); key < 10_000; key++ {
		visited, err := s.IsVisited(key)
		require.NoError(t, err)
		assert.True(t, visited, "key %d forgotten", key)
	}
}

func TestBloomStorageVisitIfNotVisited(t *testing.T) {
	s := NewBloomStorage(1000, 0.0001)
	require.NoError(t, s.Init())

	already, err := s.VisitIfNotVisited(99)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.VisitIfNotVisited(99)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestBloomStorageCookieDelegation(t *testing.T) {
	s := NewBloomStorage(0, 0)
	require.NoError(t, s.Init())

	u, _ := url.Parse("http://example.com/")
	s.SetCookies(u, "k=v")
	assert.Equal(t, "k=v", s.Cookies(u))
}

func TestBloomStorageCustomCookieStore(t *testing.T) {
	s := NewBloomStorage(0, 0)
	mem := &InMemoryStorage{}
	require.NoError(t, mem.Init())
	s.SetCookieStore(mem)
	require.NoError(t, s.Init())

	u, _ := url.Parse("http://example.com/")
	s.SetCookies(u, "k=v")
	assert.Equal(t, "k=v", mem.Cookies(u), "cookies must land in the injected store")
}
