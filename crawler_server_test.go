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

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/karthala/webfence/testutil"
)

func newServerCrawler(t *testing.T, seed string, opts *Options) *Crawler {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.CookieDir == "" {
		opts.CookieDir = t.TempDir()
	}
	c, err := New(seed, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// Crawling the test site from its root reaches every linked HTML page
// and nothing else: no off-domain fetches, no ignored resource types.
func TestCrawlSite(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/", nil)
	pages := collectPages(c)
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := append([]string(nil), *pages...)
	sort.Strings(got)
	want := []string{
		srv.URL + "/",
		srv.URL + "/cookie-check",
		srv.URL + "/leaf",
		srv.URL + "/page1",
		srv.URL + "/page2",
	}
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("pages = %v, want %v", got, want)
	}
}

// Cookies set by one page are presented on later fetches: /page2 sets a
// cookie and links /cookie-check, which reports whether it arrived.
func TestCrawlCookiePropagation(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/", nil)
	var mu sync.Mutex
	var checkBody string
	c.OnPage(func(r *Response) {
		if strings.HasSuffix(r.URL.Path, "/cookie-check") {
			mu.Lock()
			checkBody = string(r.Body)
			mu.Unlock()
		}
	})
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(checkBody, "cookie present") {
		t.Errorf("cookie-check body = %q, cookie did not survive across fetches", checkBody)
	}
}

// The cookie scratch file exists during the crawl and is gone afterwards.
func TestCrawlCookieFileLifetime(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/", nil)
	path := c.cookieFile.Path()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("scratch file missing before crawl: %v", err)
	}
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("scratch file still present after crawl: %v", err)
	}
}

func TestCrawlBaseElement(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/base", nil)
	pages := collectPages(c)
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, p := range *pages {
		if strings.HasSuffix(p, "/deep/relative") {
			found = true
		}
	}
	if !found {
		t.Errorf("base-relative link not resolved against <base href>; pages = %v", *pages)
	}
}

func TestCrawlSkipsNonHTMLBodies(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/plain", nil)
	pages := collectPages(c)
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}

	// the text/plain page is yielded but its body is never parsed for
	// links, so the crawl ends with it
	if len(*pages) != 1 {
		t.Errorf("pages = %v, want just the seed", *pages)
	}
}

func TestCrawlTraceFetch(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/leaf", &Options{TraceFetch: true})
	var trace *FetchTrace
	c.OnPage(func(r *Response) { trace = r.Trace })
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}

	if trace == nil {
		t.Fatal("Trace = nil with TraceFetch enabled")
	}
	if trace.FirstByteDuration <= 0 {
		t.Errorf("FirstByteDuration = %v, want > 0", trace.FirstByteDuration)
	}
}

func TestCrawlNoTraceByDefault(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	c := newServerCrawler(t, srv.URL+"/leaf", nil)
	var resp *Response
	c.OnPage(func(r *Response) { resp = r })
	if err := c.Crawl(context.Background()); err != nil {
		t.Fatal(err)
	}
	if resp == nil {
		t.Fatal("seed page not yielded")
	}
	if resp.Trace != nil {
		t.Error("Trace must be nil unless TraceFetch is set")
	}
}
