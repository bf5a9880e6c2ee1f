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
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/karthala/webfence/storage"
)

const (
	// DefaultUserAgent is sent when no User-Agent header is configured
	DefaultUserAgent = "webfence/1.0 (+https://github.com/karthala/webfence)"
	// DefaultAcceptLanguage is sent when no Accept-Language header is configured
	DefaultAcceptLanguage = "en-US,en;q=0.9"
	// DefaultTimeout is the transport-level timeout of a single fetch
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBodySize is the retrieved-body byte cap (10MB)
	DefaultMaxBodySize = 10 * 1024 * 1024
)

// ProxyConfig routes every request of a crawl through one HTTP proxy.
type ProxyConfig struct {
	// IP is the proxy host (name or address)
	IP string
	// Port is the proxy port
	Port int
	// Username and Password are optional proxy credentials
	Username string
	Password string
}

// URL renders the proxy endpoint as a URL suitable for http.ProxyURL.
func (p *ProxyConfig) URL() (*url.URL, error) {
	if p.IP == "" || p.Port <= 0 {
		return nil, fmt.Errorf("proxy: missing host or port")
	}
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.IP, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Options contains all configuration of one crawl. The zero value of
// every field means "use the default"; values are merged over
// DefaultOptions and clamped where the field has an allowed range.
// Options are immutable once the Crawler is constructed.
type Options struct {
	// TimeBox is the crawl's wall-clock budget in seconds, clamped to
	// [BaseCrawlTime, MaxCrawlTime]. Non-positive values fall back to
	// BaseCrawlTime.
	TimeBox int
	// MaxURLs limits how many pages one crawl visits, clamped to
	// [BaseURLCount, MaxURLCount].
	MaxURLs int
	// Headers are custom request headers. Accept-Language and
	// User-Agent override the package defaults; other entries are sent
	// as given.
	Headers map[string]string
	// Proxy, when set, routes all requests through one HTTP proxy.
	Proxy *ProxyConfig
	// Timeout is the transport-level timeout of a single fetch.
	Timeout time.Duration
	// MaxBodySize is the limit of the retrieved response body in
	// bytes. 0 means DefaultMaxBodySize; negative means unlimited.
	MaxBodySize int
	// Parallelism is the number of concurrent fetches per round.
	// The default of 1 keeps the documented strictly sequential
	// baseline; values above 1 opt in to worker-pool dispatch.
	Parallelism int
	// DetectCharset enables charset sniffing for text bodies that
	// declare no charset.
	DetectCharset bool
	// TraceFetch attaches connection timing to each yielded Response.
	TraceFetch bool
	// MaxURLLength drops discovered links whose absolute URL exceeds
	// this many bytes. 0 disables the check.
	MaxURLLength int
	// Storage overrides the visited/cookie bookkeeping backend.
	// Default: a BloomStorage with a whole-crawl cookie scratch file.
	Storage storage.Storage
	// CookieDir is where the cookie scratch file is created when the
	// default storage is used. Empty means os.TempDir().
	CookieDir string
	// ThrottleRules insert politeness delays for matching domains.
	ThrottleRules []*ThrottleRule
	// Logger receives structured crawl diagnostics. Default: discard.
	Logger *slog.Logger
}

// DefaultOptions returns the Options a nil config resolves to.
func DefaultOptions() *Options {
	return &Options{
		TimeBox:     0, // clamps to BaseCrawlTime
		MaxURLs:     0, // clamps to BaseURLCount
		Timeout:     DefaultTimeout,
		MaxBodySize: DefaultMaxBodySize,
		Parallelism: 1,
	}
}

// withDefaults merges user options over DefaultOptions. The user value
// wins for any field it sets.
func (o *Options) withDefaults() *Options {
	merged := DefaultOptions()
	if o == nil {
		return merged
	}
	merged.TimeBox = o.TimeBox
	merged.MaxURLs = o.MaxURLs
	merged.Headers = o.Headers
	merged.Proxy = o.Proxy
	if o.Timeout != 0 {
		merged.Timeout = o.Timeout
	}
	if o.MaxBodySize != 0 {
		merged.MaxBodySize = o.MaxBodySize
	}
	if o.Parallelism > 1 {
		merged.Parallelism = o.Parallelism
	}
	merged.DetectCharset = o.DetectCharset
	merged.TraceFetch = o.TraceFetch
	merged.MaxURLLength = o.MaxURLLength
	merged.Storage = o.Storage
	merged.CookieDir = o.CookieDir
	merged.ThrottleRules = o.ThrottleRules
	merged.Logger = o.Logger
	return merged
}
