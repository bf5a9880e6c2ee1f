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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// RedirectHop records one intermediate response of a redirect chain.
type RedirectHop struct {
	// URL is the address that answered with a redirect
	URL string
	// StatusCode is the redirect status (301, 302, 303, 307, 308)
	StatusCode int
	// Location is the raw Location header of the hop
	Location string
}

// Response is one fetched page, handed to the caller once and discarded
// afterwards. URL is the effective address after following redirects;
// every scope decision the crawler makes about this page uses it, not the
// address originally requested.
type Response struct {
	// URL is the final (post-redirect) URL of the page
	URL *url.URL
	// StatusCode is the HTTP status of the final response
	StatusCode int
	// Headers are the final response headers
	Headers http.Header
	// Body is the response body, possibly truncated at the configured
	// MaxBodySize and re-encoded to UTF-8 when charset fixing is on
	Body []byte
	// RedirectChain holds the intermediate redirect responses, oldest
	// first. Empty for directly answered requests.
	RedirectChain []*RedirectHop
	// Trace carries connection timing when Options.TraceFetch is set,
	// nil otherwise. For redirected fetches it covers the final hop.
	Trace *FetchTrace
}

// IsHTML reports whether the response declares an HTML media type, or
// sniffs as one when no Content-Type was sent.
func (r *Response) IsHTML() bool {
	contentType := r.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(r.Body)
	}
	mediatype, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediatype)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// fixCharset re-encodes a non-UTF-8 body to UTF-8 so the HTML parser and
// the caller both see valid text. When the Content-Type carries no
// charset and detection is enabled, the charset is sniffed from the body.
func (r *Response) fixCharset(detectCharset bool) error {
	if len(r.Body) == 0 {
		return nil
	}

	contentType := strings.ToLower(r.Headers.Get("Content-Type"))
	if strings.Contains(contentType, "image/") ||
		strings.Contains(contentType, "video/") ||
		strings.Contains(contentType, "audio/") ||
		strings.Contains(contentType, "font/") {
		// Not text. Leave the bytes alone.
		return nil
	}

	if !strings.Contains(contentType, "charset") {
		if !detectCharset {
			return nil
		}
		d := chardet.NewTextDetector()
		best, err := d.DetectBest(r.Body)
		if err != nil {
			return err
		}
		contentType = "text/plain; charset=" + best.Charset
	}
	if strings.Contains(contentType, "utf-8") || strings.Contains(contentType, "utf8") {
		return nil
	}

	reader, err := charset.NewReader(strings.NewReader(string(r.Body)), contentType)
	if err != nil {
		return err
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	r.Body = decoded
	return nil
}
