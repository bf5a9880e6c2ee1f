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
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ignoredExtensions lists path suffixes that identify non-HTML resources
// the crawler never enqueues, grouped by suffix length so a candidate
// path is tested with at most one map lookup per group.
var ignoredExtensions = groupBySuffixLength([]string{
	".7z", ".gz", ".js",
	".avi", ".bmp", ".css", ".doc", ".exe", ".flv", ".gif", ".ico",
	".mid", ".mkv", ".mov", ".mp3", ".mp4", ".ogg", ".otf", ".pdf",
	".png", ".ppt", ".rar", ".svg", ".tar", ".ttf", ".wav", ".xls",
	".zip",
	".docx", ".jpeg", ".mpeg", ".pptx", ".tiff", ".webm", ".webp",
	".woff", ".xlsx", ".json",
	".woff2",
	".torrent",
	".jpg", ".eot", ".wmv",
})

func groupBySuffixLength(exts []string) map[int]map[string]struct{} {
	groups := make(map[int]map[string]struct{})
	for _, ext := range exts {
		g, ok := groups[len(ext)]
		if !ok {
			g = make(map[string]struct{})
			groups[len(ext)] = g
		}
		g[ext] = struct{}{}
	}
	return groups
}

// registrableDomain maps a URL to its registrable domain (eTLD+1),
// the crawl's scope boundary. Hosts without a registrable domain
// (IP addresses, localhost, bare test hosts) fall back to the lowercased
// host itself so local crawls still scope consistently.
func registrableDomain(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

// hasIgnoredExtension reports whether the URL path names a resource type
// the crawler skips. Matching is case-insensitive.
func hasIgnoredExtension(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for length, group := range ignoredExtensions {
		if len(path) < length {
			continue
		}
		if _, ok := group[path[len(path)-length:]]; ok {
			return true
		}
	}
	return false
}

// scopeFilter decides whether a discovered URL may be enqueued. All four
// conditions are required: same registrable domain as the seed, not an
// ignored resource type, not already visited, and not already pending in
// the frontier.
type scopeFilter struct {
	targetDomain string
}

func newScopeFilter(seed *url.URL) *scopeFilter {
	return &scopeFilter{targetDomain: registrableDomain(seed)}
}

// sameDomain reports whether the URL's registrable domain equals the
// crawl's target domain.
func (f *scopeFilter) sameDomain(u *url.URL) bool {
	return f.targetDomain != "" && registrableDomain(u) == f.targetDomain
}

// inScope applies the domain and resource-type checks. Visited and
// frontier membership are checked by the driver, which owns both
// structures.
func (f *scopeFilter) inScope(u *url.URL) bool {
	return f.sameDomain(u) && !hasIgnoredExtension(u)
}
