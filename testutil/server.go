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

// Package testutil provides shared test utilities for webfence tests:
// an HTTP test server shaped like a small linked site, with redirects,
// cookies, ignored resource types, and off-domain links.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"
)

// IndexHTML is served at "/": links to two same-site pages, an ignored
// resource, a fragment, a mailto, and an off-domain page.
const IndexHTML = `<!DOCTYPE html>
<html>
<head><title>Index</title></head>
<body>
<a href="/page1">one</a>
<a href="/page2">two</a>
<a href="/report.pdf">report</a>
<a href="/assets/app.js">script</a>
<a href="#section">fragment</a>
<a href="mailto:admin@example.com">mail</a>
<a href="http://elsewhere.example/off">off-domain</a>
</body>
</html>
`

// NewUnstartedTestServer creates an unstarted HTTP test server with all
// endpoints configured.
func NewUnstartedTestServer() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(404)
			fmt.Fprint(w, "not found")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, IndexHTML)
	})

	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
<a href="/page2">two</a>
<a href="/">home</a>
<a href="/leaf">leaf</a>
</body></html>`)
	})

	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "visited", Value: "yes", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/cookie-check">check</a></body></html>`)
	})

	mux.HandleFunc("/cookie-check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if c, err := r.Cookie("visited"); err == nil && c.Value == "yes" {
			fmt.Fprint(w, "<html><body>cookie present</body></html>")
			return
		}
		fmt.Fprint(w, "<html><body>no cookie</body></html>")
	})

	mux.HandleFunc("/leaf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>leaf</body></html>")
	})

	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/redirected", http.StatusFound)
	})

	mux.HandleFunc("/redirected", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>landed</body></html>")
	})

	mux.HandleFunc("/redirect-loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/redirect-loop", http.StatusFound)
	})

	mux.HandleFunc("/base", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><base href="/deep/" /></head>
<body><a href="relative">rel</a></body></html>`)
	})

	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, `not html: <a href="/never">never</a>`)
	})

	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>slow</body></html>")
	})

	mux.HandleFunc("/status/500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		fmt.Fprint(w, "boom")
	})

	return httptest.NewUnstartedServer(mux)
}

// NewTestServer starts and returns a test server. Callers must Close it.
func NewTestServer() *httptest.Server {
	srv := NewUnstartedTestServer()
	srv.Start()
	return srv
}
