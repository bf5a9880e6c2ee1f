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
	"compress/gzip"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

const maxRedirects = 10

// ThrottleRule inserts a politeness delay before requests to matching
// domains. Either DomainRegexp or DomainGlob must be set.
type ThrottleRule struct {
	// DomainRegexp is a regular expression matched against request hosts
	DomainRegexp string
	// DomainGlob is a glob pattern matched against request hosts
	DomainGlob string
	// Delay is the fixed wait inserted after each matching request
	Delay time.Duration
	// RandomDelay is an extra randomized wait added on top of Delay
	RandomDelay time.Duration

	compiledRegexp *regexp.Regexp
	compiledGlob   glob.Glob
}

// Init compiles the rule's patterns.
func (r *ThrottleRule) Init() error {
	hasPattern := false
	if r.DomainRegexp != "" {
		c, err := regexp.Compile(r.DomainRegexp)
		if err != nil {
			return err
		}
		r.compiledRegexp = c
		hasPattern = true
	}
	if r.DomainGlob != "" {
		c, err := glob.Compile(r.DomainGlob)
		if err != nil {
			return err
		}
		r.compiledGlob = c
		hasPattern = true
	}
	if !hasPattern {
		return ErrNoPattern
	}
	return nil
}

// Match checks that the domain parameter triggers the rule
func (r *ThrottleRule) Match(domain string) bool {
	if r.compiledRegexp != nil && r.compiledRegexp.MatchString(domain) {
		return true
	}
	if r.compiledGlob != nil && r.compiledGlob.Match(domain) {
		return true
	}
	return false
}

// httpBackend owns the crawl's single http.Client: shared cookie jar,
// transport-level timeout, optional proxy, and throttle rules. One fetch
// at a time is the caller's responsibility; the backend itself is safe
// for concurrent use when the worker pool mode is enabled.
type httpBackend struct {
	ThrottleRules []*ThrottleRule
	Client        *http.Client
	lock          *sync.RWMutex
}

func (h *httpBackend) Init(jar http.CookieJar, timeout time.Duration) {
	h.Client = &http.Client{
		Jar:     jar,
		Timeout: timeout,
		// Redirects are followed manually in Get so intermediate
		// responses and the effective URL are captured.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	h.lock = &sync.RWMutex{}
}

// SetProxy routes all requests through the given proxy URL.
func (h *httpBackend) SetProxy(proxyURL *url.URL) {
	transport, ok := h.Client.Transport.(*http.Transport)
	if !ok || transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	h.Client.Transport = transport
}

// Throttle registers a new ThrottleRule.
func (h *httpBackend) Throttle(rule *ThrottleRule) error {
	h.lock.Lock()
	h.ThrottleRules = append(h.ThrottleRules, rule)
	h.lock.Unlock()
	return rule.Init()
}

func (h *httpBackend) matchingRule(domain string) *ThrottleRule {
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, r := range h.ThrottleRules {
		if r.Match(domain) {
			return r
		}
	}
	return nil
}

// Get performs one request and follows redirects manually, up to
// maxRedirects hops. The returned Response carries the effective URL of
// the final hop and the chain of intermediate redirects.
func (h *httpBackend) Get(request *http.Request, bodySize int) (*Response, error) {
	if r := h.matchingRule(request.URL.Hostname()); r != nil {
		defer func(r *ThrottleRule) {
			delay := r.Delay
			if r.RandomDelay != 0 {
				delay += time.Duration(rand.Int63n(int64(r.RandomDelay)))
			}
			time.Sleep(delay)
		}(r)
	}

	var chain []*RedirectHop
	currentRequest := request

	for hop := 0; hop < maxRedirects; hop++ {
		res, err := h.Client.Do(currentRequest)
		if err != nil {
			return nil, err
		}

		location := res.Header.Get("Location")
		if res.StatusCode >= 300 && res.StatusCode < 400 && location != "" {
			redirectURL, err := currentRequest.URL.Parse(location)
			if err != nil {
				res.Body.Close()
				return nil, err
			}
			chain = append(chain, &RedirectHop{
				URL:        currentRequest.URL.String(),
				StatusCode: res.StatusCode,
				Location:   location,
			})
			res.Body.Close()

			// 307/308 preserve the method; everything else becomes GET.
			// The crawler only issues GETs, but redirects may still
			// downgrade method semantics for retried requests.
			method := "GET"
			if res.StatusCode == 307 || res.StatusCode == 308 {
				method = currentRequest.Method
			}
			next, err := http.NewRequestWithContext(currentRequest.Context(), method, redirectURL.String(), nil)
			if err != nil {
				return nil, err
			}
			for key, values := range currentRequest.Header {
				for _, value := range values {
					next.Header.Add(key, value)
				}
			}
			if next.URL.Host != currentRequest.URL.Host {
				next.Header.Del("Authorization")
			}
			currentRequest = next
			continue
		}

		defer res.Body.Close()

		effectiveURL := currentRequest.URL
		if res.Request != nil {
			effectiveURL = res.Request.URL
		}

		var bodyReader io.Reader = res.Body
		if bodySize > 0 {
			bodyReader = io.LimitReader(bodyReader, int64(bodySize))
		}
		contentEncoding := strings.ToLower(res.Header.Get("Content-Encoding"))
		if !res.Uncompressed && strings.Contains(contentEncoding, "gzip") {
			gz, err := gzip.NewReader(bodyReader)
			if err != nil {
				return nil, err
			}
			defer gz.Close()
			bodyReader = gz
		}
		body, err := io.ReadAll(bodyReader)
		if err != nil {
			return nil, err
		}
		return &Response{
			URL:           effectiveURL,
			StatusCode:    res.StatusCode,
			Headers:       res.Header,
			Body:          body,
			RedirectChain: chain,
		}, nil
	}

	return nil, ErrTooManyRedirects
}
