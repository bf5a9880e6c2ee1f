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

// Package storage provides visited-URL tracking and cookie persistence
// backends for the webfence crawler.
package storage

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Storage is an interface which handles a crawl's internal bookkeeping:
// visited URL keys and accumulated cookies. Visited keys are 64-bit hashes
// of normalized URLs, computed by the crawler.
//
// The default Storage of a Crawler is BloomStorage. The exact
// InMemoryStorage is available for callers who prefer exact membership
// over bounded memory.
type Storage interface {
	// Init initializes the storage
	Init() error
	// Visited records a URL key as seen
	Visited(key uint64) error
	// IsVisited returns true if the key was recorded before IsVisited
	// is called
	IsVisited(key uint64) (bool, error)
	// VisitIfNotVisited atomically checks if a key has been visited,
	// and if not, marks it as visited. Returns true if the key was
	// already visited. This is the atomic equivalent of
	// IsVisited() + Visited() and is required when fetches are
	// dispatched concurrently.
	VisitIfNotVisited(key uint64) (bool, error)
	// Cookies retrieves stored cookies for a given host
	Cookies(u *url.URL) string
	// SetCookies stores cookies for a given host
	SetCookies(u *url.URL, cookies string)
}

// CookieStore is the cookie persistence half of Storage. Implementations
// may keep cookies in memory or spill them to a scratch file whose
// lifetime spans the whole crawl.
type CookieStore interface {
	Cookies(u *url.URL) string
	SetCookies(u *url.URL, cookies string)
}

// InMemoryStorage keeps visited keys and cookies in exact in-memory maps
// without persisting anything to disk. Memory grows with crawl breadth;
// for bounded memory use BloomStorage instead.
type InMemoryStorage struct {
	visited map[uint64]bool
	cookies map[string]string
	lock    sync.RWMutex
}

// Init implements Storage.Init()
func (s *InMemoryStorage) Init() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.visited == nil {
		s.visited = make(map[uint64]bool)
	}
	if s.cookies == nil {
		s.cookies = make(map[string]string)
	}
	return nil
}

// Visited implements Storage.Visited()
func (s *InMemoryStorage) Visited(key uint64) error {
	s.lock.Lock()
	s.visited[key] = true
	s.lock.Unlock()
	return nil
}

// IsVisited implements Storage.IsVisited()
func (s *InMemoryStorage) IsVisited(key uint64) (bool, error) {
	s.lock.RLock()
	visited := s.visited[key]
	s.lock.RUnlock()
	return visited, nil
}

// VisitIfNotVisited implements Storage.VisitIfNotVisited()
func (s *InMemoryStorage) VisitIfNotVisited(key uint64) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.visited[key] {
		return true, nil
	}
	s.visited[key] = true
	return false, nil
}

// Cookies implements Storage.Cookies()
func (s *InMemoryStorage) Cookies(u *url.URL) string {
	s.lock.RLock()
	cookies := s.cookies[u.Host]
	s.lock.RUnlock()
	return cookies
}

// SetCookies implements Storage.SetCookies()
func (s *InMemoryStorage) SetCookies(u *url.URL, cookies string) {
	s.lock.Lock()
	s.cookies[u.Host] = cookies
	s.lock.Unlock()
}

// StringifyCookies serializes a list of http.Cookies to a string
func StringifyCookies(cookies []*http.Cookie) string {
	cs := make([]string, len(cookies))
	for i, c := range cookies {
		cs[i] = c.String()
	}
	return strings.Join(cs, "\n")
}

// UnstringifyCookies deserializes a cookie string to http.Cookies
func UnstringifyCookies(s string) []*http.Cookie {
	h := http.Header{}
	for _, c := range strings.Split(s, "\n") {
		h.Add("Set-Cookie", c)
	}
	r := http.Response{Header: h}
	return r.Cookies()
}

// ContainsCookie checks if a cookie name is represented in cookies
func ContainsCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}
