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

package webfence

import "sync"

// frontierEntry pairs a pending absolute URL with its visit key, so the
// key is computed once, at discovery time, and with the URL of the page
// that discovered it, sent as the Referer of the eventual fetch.
type frontierEntry struct {
	url     string
	key     uint64
	referer string
}

// frontier is the FIFO queue of discovered-but-unfetched URLs. Insertion
// order defines fetch order. The frontier itself does not suppress
// duplicates across rounds; dequeue-time visited checks do. Membership
// by key is tracked so the scope filter can refuse re-enqueueing a URL
// that is already pending.
//
// All mutation goes through the driver; the lock only matters in
// worker-pool mode, where fetch workers append discoveries concurrently.
type frontier struct {
	entries []frontierEntry
	pending map[uint64]int
	lock    sync.Mutex
}

func newFrontier() *frontier {
	return &frontier{pending: make(map[uint64]int)}
}

// push appends one URL. Duplicate keys are allowed; each copy bumps the
// pending count.
func (f *frontier) push(url string, key uint64, referer string) {
	f.lock.Lock()
	f.entries = append(f.entries, frontierEntry{url: url, key: key, referer: referer})
	f.pending[key]++
	f.lock.Unlock()
}

// contains reports whether a URL with this key is pending.
func (f *frontier) contains(key uint64) bool {
	f.lock.Lock()
	_, ok := f.pending[key]
	f.lock.Unlock()
	return ok
}

// drain removes and returns every currently pending entry. The returned
// slice is the round's batch: links discovered while the batch is being
// processed land in the next drain.
func (f *frontier) drain() []frontierEntry {
	f.lock.Lock()
	batch := f.entries
	f.entries = nil
	for _, e := range batch {
		if f.pending[e.key] <= 1 {
			delete(f.pending, e.key)
		} else {
			f.pending[e.key]--
		}
	}
	f.lock.Unlock()
	return batch
}

// size returns the number of pending entries.
func (f *frontier) size() int {
	f.lock.Lock()
	n := len(f.entries)
	f.lock.Unlock()
	return n
}
