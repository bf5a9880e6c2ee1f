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
	"encoding/binary"
	"net/url"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// DefaultBloomCapacity is the expected number of distinct URLs a
	// single crawl will record.
	DefaultBloomCapacity = 1_000_000
	// DefaultBloomFPRate is the target false-positive rate of the
	// filter at DefaultBloomCapacity insertions. A false positive makes
	// the crawler silently skip a URL it has never fetched; the rate is
	// an accepted tradeoff for memory that stays constant regardless of
	// crawl breadth.
	DefaultBloomFPRate = 0.0001
)

// BloomStorage tracks visited URL keys in a Bloom filter. Membership
// answers have no false negatives and a false-positive rate fixed at
// construction, so the memory footprint is independent of how many URLs
// the crawl touches. Keys can never be removed.
//
// Cookies are delegated to a CookieStore; by default an in-memory map.
type BloomStorage struct {
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
	cookies  CookieStore
	lock     sync.Mutex
}

// NewBloomStorage creates a BloomStorage sized for the expected number of
// distinct URLs with the given false-positive rate. Non-positive
// arguments fall back to the package defaults.
func NewBloomStorage(capacity uint, fpRate float64) *BloomStorage {
	if capacity == 0 {
		capacity = DefaultBloomCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultBloomFPRate
	}
	return &BloomStorage{
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// SetCookieStore replaces the cookie backend. It must be called before
// the storage is handed to a crawler.
func (s *BloomStorage) SetCookieStore(cs CookieStore) {
	s.cookies = cs
}

// Init implements Storage.Init()
func (s *BloomStorage) Init() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.filter == nil {
		s.filter = bloom.NewWithEstimates(s.capacity, s.fpRate)
	}
	if s.cookies == nil {
		mem := &InMemoryStorage{}
		if err := mem.Init(); err != nil {
			return err
		}
		s.cookies = mem
	}
	return nil
}

// Visited implements Storage.Visited()
func (s *BloomStorage) Visited(key uint64) error {
	s.lock.Lock()
	s.filter.Add(keyBytes(key))
	s.lock.Unlock()
	return nil
}

// IsVisited implements Storage.IsVisited()
func (s *BloomStorage) IsVisited(key uint64) (bool, error) {
	s.lock.Lock()
	visited := s.filter.Test(keyBytes(key))
	s.lock.Unlock()
	return visited, nil
}

// VisitIfNotVisited implements Storage.VisitIfNotVisited()
func (s *BloomStorage) VisitIfNotVisited(key uint64) (bool, error) {
	s.lock.Lock()
	visited := s.filter.TestOrAdd(keyBytes(key))
	s.lock.Unlock()
	return visited, nil
}

// Cookies implements Storage.Cookies()
func (s *BloomStorage) Cookies(u *url.URL) string {
	return s.cookies.Cookies(u)
}

// SetCookies implements Storage.SetCookies()
func (s *BloomStorage) SetCookies(u *url.URL, cookies string) {
	s.cookies.SetCookies(u, cookies)
}

func keyBytes(key uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return b[:]
}
