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
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/kennygrant/sanitize"
)

// CookieFile is a CookieStore backed by a single scratch file. The file
// lives for the whole crawl: created once at crawl setup, rewritten as
// cookies accumulate, and removed by Close when the crawl ends. It is an
// implementation resource, not a persistence format.
type CookieFile struct {
	path    string
	cookies map[string]string
	dirty   bool
	lock    sync.Mutex
}

// NewCookieFile creates a cookie scratch file in dir (os.TempDir() when
// empty), named after the crawl's target domain.
func NewCookieFile(dir, domain string) (*CookieFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	name := sanitize.BaseName(domain)
	if name == "" {
		name = "crawl"
	}
	f, err := os.CreateTemp(dir, name+"-*.cookies")
	if err != nil {
		return nil, fmt.Errorf("cookie scratch file: %w", err)
	}
	path := f.Name()
	f.Close()
	return &CookieFile{
		path:    path,
		cookies: make(map[string]string),
	}, nil
}

// Cookies implements CookieStore.Cookies()
func (c *CookieFile) Cookies(u *url.URL) string {
	c.lock.Lock()
	cookies := c.cookies[u.Host]
	c.lock.Unlock()
	return cookies
}

// SetCookies implements CookieStore.SetCookies()
func (c *CookieFile) SetCookies(u *url.URL, cookies string) {
	c.lock.Lock()
	c.cookies[u.Host] = cookies
	c.dirty = true
	c.flushLocked()
	c.lock.Unlock()
}

// Path returns the location of the scratch file.
func (c *CookieFile) Path() string {
	return c.path
}

// Close removes the scratch file. The in-memory cookies stay readable so
// late callbacks do not observe a missing store.
func (c *CookieFile) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return os.Remove(c.path)
}

// flushLocked rewrites the scratch file from the in-memory map. Write
// errors are swallowed: the file is best-effort spill space and the
// authoritative copy is the map.
func (c *CookieFile) flushLocked() {
	if !c.dirty {
		return
	}
	f, err := os.Create(c.path)
	if err != nil {
		return
	}
	w := bufio.NewWriter(f)
	for host, cookies := range c.cookies {
		// Cookie strings contain newlines between cookies; escape them
		// so one line holds one host.
		fmt.Fprintf(w, "%s\t%s\n", host, strings.ReplaceAll(cookies, "\n", "\x00"))
	}
	w.Flush()
	f.Close()
	c.dirty = false
}
