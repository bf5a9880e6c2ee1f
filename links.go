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
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	whatwgUrl "github.com/nlnwa/whatwg-url/url"
)

var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// extractHrefs parses an HTML body and returns the href attribute of
// every anchor element, deduplicated and sorted. A <base href> element,
// when present, overrides the resolution base downstream.
func extractHrefs(body []byte) ([]string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}

	base, _ := doc.Find("base[href]").Attr("href")

	seen := make(map[string]struct{})
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		hrefs = append(hrefs, href)
	})
	sort.Strings(hrefs)
	return hrefs, base, nil
}

// isNoiseHref reports whether an extracted href can never resolve to a
// navigable page: empty or whitespace-only values, non-navigable schemes,
// fragment-only references, and the stray leading parenthesis some
// malformed markup produces.
func isNoiseHref(href string) bool {
	trimmed := strings.TrimSpace(href)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "(") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, scheme := range []string{"javascript:", "mailto:", "about:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// resolveHref joins one href against the page's base URL, returning nil
// when the href is noise or fails to parse. A failure affects only the
// one link, never the rest of the page.
func resolveHref(base *url.URL, href string) *url.URL {
	if isNoiseHref(href) {
		return nil
	}
	ref, err := urlParser.ParseRef(base.String(), strings.TrimSpace(href))
	if err != nil {
		return nil
	}
	resolved, err := url.Parse(ref.Href(false))
	if err != nil {
		return nil
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	return resolved
}

// normalizeURL reparses a URL through the whatwg parser to fix
// ambiguities such as "http://example.com" vs "http://example.com/",
// so visit keys are stable across spellings.
func normalizeURL(u string) string {
	parsed, err := urlParser.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Href(false)
}
