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

// Package webfence implements a bounded, same-domain web crawler. Given
// a seed URL it discovers and fetches reachable pages whose registrable
// domain matches the seed's, streaming each fetched page to the caller
// while honoring hard limits on wall-clock time, page count, and host
// memory pressure.
package webfence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/karthala/webfence/storage"
)

var (
	// ErrMissingSeed is returned by New when the seed URL is empty
	ErrMissingSeed = errors.New("missing seed URL")
	// ErrInvalidSeed is returned by New when the seed URL cannot be
	// parsed or is not an http(s) URL
	ErrInvalidSeed = errors.New("invalid seed URL")
	// ErrCrawlInProgress is returned by Crawl when the crawler has
	// already been started
	ErrCrawlInProgress = errors.New("crawl already started")
	// ErrNoPattern is the error type for ThrottleRules without patterns
	ErrNoPattern = errors.New("no pattern defined in ThrottleRule")
	// ErrTooManyRedirects is returned when a fetch exceeds the redirect cap
	ErrTooManyRedirects = errors.New("stopped after 10 redirects")
)

// PageCallback receives each successfully fetched in-domain page.
// In worker-pool mode it may be invoked from multiple goroutines.
type PageCallback func(*Response)

// ErrorCallback receives fetch failures judged in-domain, keyed by the
// URL that was requested; failed fetches produce no Response.
type ErrorCallback func(requestedURL string, err error)

// CompleteCallback fires once when the crawl ends. stopped is true when
// a resource limit or cancellation truncated the crawl before the
// frontier emptied on its own.
type CompleteCallback func(stopped bool, pages int, discovered int)

type crawlState int

const (
	stateIdle crawlState = iota
	stateRunning
	stateDraining
	stateFinished
)

// Crawler owns one crawl: the frontier, the visited tracker, the scope
// policy derived from the seed, and the HTTP backend. A Crawler value
// must not be shared across crawls; construct one per Crawl call.
type Crawler struct {
	opts  *Options
	seed  *url.URL
	scope *scopeFilter

	store      storage.Storage
	cookieFile *storage.CookieFile
	backend    *httpBackend
	frontier   *frontier
	gov        *governor
	pool       *workerPool
	logger     *slog.Logger

	onPage     PageCallback
	onError    ErrorCallback
	onComplete CompleteCallback

	state      crawlState
	visits     int
	pages      int
	discovered int
	lock       sync.Mutex
}

// New creates a Crawler bound to the given seed URL. An unparsable or
// non-http(s) seed fails here, before any crawling begins. A nil opts
// uses DefaultOptions.
func New(seedURL string, opts *Options) (*Crawler, error) {
	if seedURL == "" {
		return nil, ErrMissingSeed
	}
	parsedSeed, err := urlParser.Parse(seedURL)
	if err != nil {
		return nil, ErrInvalidSeed
	}
	seed, err := url.Parse(parsedSeed.Href(false))
	if err != nil {
		return nil, ErrInvalidSeed
	}
	if (seed.Scheme != "http" && seed.Scheme != "https") || seed.Host == "" {
		return nil, ErrInvalidSeed
	}

	opts = opts.withDefaults()
	c := &Crawler{
		opts:     opts,
		seed:     seed,
		scope:    newScopeFilter(seed),
		frontier: newFrontier(),
		logger:   opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Storage != nil {
		c.store = opts.Storage
	} else {
		bloomStore := storage.NewBloomStorage(0, 0)
		cookieFile, err := storage.NewCookieFile(opts.CookieDir, c.scope.targetDomain)
		if err != nil {
			return nil, err
		}
		bloomStore.SetCookieStore(cookieFile)
		c.cookieFile = cookieFile
		c.store = bloomStore
	}
	if err := c.store.Init(); err != nil {
		return nil, err
	}

	c.backend = &httpBackend{}
	c.backend.Init(newCookieJar(c.store), opts.Timeout)
	if opts.Proxy != nil {
		proxyURL, err := opts.Proxy.URL()
		if err != nil {
			return nil, err
		}
		c.backend.SetProxy(proxyURL)
	}
	for _, rule := range opts.ThrottleRules {
		if err := c.backend.Throttle(rule); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// OnPage registers the callback that receives each yielded page.
func (c *Crawler) OnPage(f PageCallback) {
	c.lock.Lock()
	c.onPage = f
	c.lock.Unlock()
}

// OnError registers the callback that receives in-domain fetch failures.
func (c *Crawler) OnError(f ErrorCallback) {
	c.lock.Lock()
	c.onError = f
	c.lock.Unlock()
}

// OnComplete registers the callback fired once when the crawl ends.
func (c *Crawler) OnComplete(f CompleteCallback) {
	c.lock.Lock()
	c.onComplete = f
	c.lock.Unlock()
}

// SetTransport replaces the backend's HTTP transport. Intended for tests
// and callers who need custom dialing.
func (c *Crawler) SetTransport(transport http.RoundTripper) {
	c.backend.Client.Transport = transport
}

// TargetDomain returns the registrable domain of the seed, the scope
// boundary of the whole crawl.
func (c *Crawler) TargetDomain() string {
	return c.scope.targetDomain
}

// Crawl runs the crawl to completion: rounds of bounded frontier
// processing until the frontier empties or a resource limit truncates
// the work. It blocks until the crawl is done and may be called once
// per Crawler.
func (c *Crawler) Crawl(ctx context.Context) error {
	c.lock.Lock()
	if c.state != stateIdle {
		c.lock.Unlock()
		return ErrCrawlInProgress
	}
	c.state = stateRunning
	c.lock.Unlock()

	c.gov = newGovernor(c.opts.TimeBox, c.opts.MaxURLs, time.Now())
	if c.opts.Parallelism > 1 {
		c.pool = newWorkerPool(ctx, c.opts.Parallelism)
	}

	c.logger.Info("crawl starting",
		"seed", c.seed.String(),
		"domain", c.scope.targetDomain,
		"timeBox", c.gov.timeBox,
		"maxPages", c.gov.maxPages,
		"parallelism", c.opts.Parallelism)

	seedKey := urlKey(c.seed.String())
	c.frontier.push(c.seed.String(), seedKey, "")
	c.addDiscovered()

	stopped := false
	for c.frontier.size() > 0 {
		if c.runRound(ctx) {
			stopped = true
			c.setState(stateDraining)
		}
	}

	if c.pool != nil {
		c.pool.close()
	}
	if c.cookieFile != nil {
		if err := c.cookieFile.Close(); err != nil {
			c.logger.Debug("cookie scratch file cleanup failed", "err", err)
		}
	}
	c.setState(stateFinished)

	c.lock.Lock()
	pages, discovered := c.pages, c.discovered
	onComplete := c.onComplete
	c.lock.Unlock()
	c.logger.Info("crawl finished", "stopped", stopped, "pages", pages, "discovered", discovered)
	if onComplete != nil {
		onComplete(stopped, pages, discovered)
	}
	return nil
}

// runRound drains the frontier into one batch and processes it in order.
// Governor limits are polled before every dequeue; hitting one truncates
// the rest of the batch without fetching further and reports true.
func (c *Crawler) runRound(ctx context.Context) bool {
	batch := c.frontier.drain()
	var wg sync.WaitGroup
	truncated := false

	for _, entry := range batch {
		if ctx.Err() != nil {
			truncated = true
			break
		}
		if c.gov.pageBudgetExhausted(c.visitCount()) {
			c.logger.Debug("page budget exhausted, truncating round")
			truncated = true
			break
		}
		if c.gov.deadlineExceeded(time.Now()) {
			c.logger.Debug("deadline passed, truncating round")
			truncated = true
			break
		}
		if c.gov.memoryDanger() {
			c.logger.Warn("memory pressure detected, truncating round")
			truncated = true
			break
		}

		// Visited-insert happens atomically with the dequeue so a URL
		// queued twice, or raced by another worker, fetches once.
		visited, err := c.store.VisitIfNotVisited(entry.key)
		if err != nil || visited {
			continue
		}
		c.addVisit()

		if c.pool != nil {
			entry := entry
			wg.Add(1)
			err := c.pool.submit(func() {
				defer wg.Done()
				c.processEntry(ctx, entry)
			})
			if err != nil {
				wg.Done()
				truncated = true
				break
			}
		} else {
			c.processEntry(ctx, entry)
		}
	}

	// In-flight fetches run to their own timeout; the cutover only
	// stops issuing new ones.
	wg.Wait()
	return truncated
}

// processEntry performs one fetch and, when the effective URL stayed in
// the target domain, yields the page and enqueues its surviving links.
func (c *Crawler) processEntry(ctx context.Context, entry frontierEntry) {
	req, err := c.newRequest(ctx, entry.url, entry.referer)
	if err != nil {
		c.handleFetchError(entry.url, err)
		return
	}
	var trace *FetchTrace
	if c.opts.TraceFetch {
		trace = &FetchTrace{}
		req = trace.withTrace(req)
	}
	resp, err := c.backend.Get(req, c.opts.MaxBodySize)
	if err != nil {
		c.handleFetchError(entry.url, err)
		return
	}
	resp.Trace = trace

	// Redirects can leave the target domain; such pages are dropped
	// without notifying the caller.
	if !c.scope.sameDomain(resp.URL) {
		c.logger.Debug("effective URL left target domain", "requested", entry.url, "effective", resp.URL.String())
		return
	}

	if err := resp.fixCharset(c.opts.DetectCharset); err != nil {
		c.logger.Debug("charset fixup failed", "url", resp.URL.String(), "err", err)
	}

	c.addPage()
	c.emitPage(resp)

	if resp.IsHTML() {
		c.enqueueLinks(resp)
	}
}

// enqueueLinks extracts the page's anchors and appends every in-scope,
// unseen, not-yet-pending link to the frontier.
func (c *Crawler) enqueueLinks(resp *Response) {
	hrefs, baseHref, err := extractHrefs(resp.Body)
	if err != nil {
		c.logger.Debug("html parse failed", "url", resp.URL.String(), "err", err)
		return
	}
	base := resp.URL
	if baseHref != "" {
		if b := resolveHref(resp.URL, baseHref); b != nil {
			base = b
		}
	}
	for _, href := range hrefs {
		link := resolveHref(base, href)
		if link == nil {
			continue
		}
		if !c.scope.inScope(link) {
			continue
		}
		linkStr := link.String()
		if c.opts.MaxURLLength > 0 && len(linkStr) > c.opts.MaxURLLength {
			continue
		}
		key := urlKey(linkStr)
		if visited, _ := c.store.IsVisited(key); visited {
			continue
		}
		if c.frontier.contains(key) {
			continue
		}
		c.frontier.push(linkStr, key, resp.URL.String())
		c.addDiscovered()
	}
}

func (c *Crawler) newRequest(ctx context.Context, rawURL, referer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for name, value := range c.opts.Headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", DefaultAcceptLanguage)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	return req, nil
}

// handleFetchError surfaces a failure to the caller only when the
// requested URL is judged in-domain; anything else is dropped silently.
// No fetch failure is fatal to the crawl.
func (c *Crawler) handleFetchError(rawURL string, err error) {
	c.logger.Debug("fetch failed", "url", rawURL, "err", err)
	if u, parseErr := url.Parse(rawURL); parseErr == nil && !c.scope.sameDomain(u) {
		return
	}
	c.lock.Lock()
	onError := c.onError
	c.lock.Unlock()
	if onError != nil {
		onError(rawURL, err)
	}
}

func (c *Crawler) emitPage(resp *Response) {
	c.lock.Lock()
	onPage := c.onPage
	c.lock.Unlock()
	if onPage != nil {
		onPage(resp)
	}
}

func (c *Crawler) setState(s crawlState) {
	c.lock.Lock()
	c.state = s
	c.lock.Unlock()
}

func (c *Crawler) visitCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.visits
}

func (c *Crawler) addVisit() {
	c.lock.Lock()
	c.visits++
	c.lock.Unlock()
}

func (c *Crawler) addPage() {
	c.lock.Lock()
	c.pages++
	c.lock.Unlock()
}

func (c *Crawler) addDiscovered() {
	c.lock.Lock()
	c.discovered++
	c.lock.Unlock()
}

// urlKey hashes a normalized URL to its 64-bit visit key, so
// "http://example.com" and "http://example.com/" share one key.
func urlKey(u string) uint64 {
	return xxhash.Sum64String(normalizeURL(u))
}

// cookieJarSerializer adapts a storage backend to http.CookieJar, so
// cookies accumulated across the crawl survive in whatever store the
// crawl uses, including the scratch-file store.
type cookieJarSerializer struct {
	store storage.Storage
	lock  sync.RWMutex
}

func newCookieJar(s storage.Storage) http.CookieJar {
	return &cookieJarSerializer{store: s}
}

func (j *cookieJarSerializer) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.lock.Lock()
	defer j.lock.Unlock()
	existing := storage.UnstringifyCookies(j.store.Cookies(u))

	// Merge; new cookies take precedence.
	merged := make([]*http.Cookie, len(cookies))
	copy(merged, cookies)
	for _, c := range existing {
		if !storage.ContainsCookie(merged, c.Name) {
			merged = append(merged, c)
		}
	}
	j.store.SetCookies(u, storage.StringifyCookies(merged))
}

func (j *cookieJarSerializer) Cookies(u *url.URL) []*http.Cookie {
	j.lock.RLock()
	cookies := storage.UnstringifyCookies(j.store.Cookies(u))
	j.lock.RUnlock()

	now := time.Now()
	valid := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.RawExpires != "" && c.Expires.Before(now) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		valid = append(valid, c)
	}
	return valid
}
