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
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/karthala/webfence/testutil"
)

func newTestBackend(t *testing.T) *httpBackend {
	t.Helper()
	b := &httpBackend{}
	b.Init(nil, 5*time.Second)
	return b
}

func getURL(t *testing.T, b *httpBackend, url string, bodySize int) (*Response, error) {
	t.Helper()
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return b.Get(req, bodySize)
}

func TestBackendGet(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	resp, err := getURL(t, newTestBackend(t), srv.URL+"/leaf", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(resp.Body), "leaf") {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if len(resp.RedirectChain) != 0 {
		t.Errorf("redirect chain = %v, want empty", resp.RedirectChain)
	}
	if resp.URL.String() != srv.URL+"/leaf" {
		t.Errorf("effective URL = %s", resp.URL)
	}
}

// The effective URL of a redirected fetch is the final hop; intermediate
// responses land in the chain in order.
func TestBackendRedirect(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	resp, err := getURL(t, newTestBackend(t), srv.URL+"/redirect", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.URL.String() != srv.URL+"/redirected" {
		t.Errorf("effective URL = %s, want %s/redirected", resp.URL, srv.URL)
	}
	if len(resp.RedirectChain) != 1 {
		t.Fatalf("redirect chain length = %d, want 1", len(resp.RedirectChain))
	}
	hop := resp.RedirectChain[0]
	if hop.StatusCode != 302 || hop.URL != srv.URL+"/redirect" {
		t.Errorf("hop = %+v", hop)
	}
}

func TestBackendRedirectLoop(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	_, err := getURL(t, newTestBackend(t), srv.URL+"/redirect-loop", 0)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("err = %v, want ErrTooManyRedirects", err)
	}
}

func TestBackendBodySizeLimit(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	resp, err := getURL(t, newTestBackend(t), srv.URL+"/", 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) > 16 {
		t.Errorf("body length = %d, want at most 16", len(resp.Body))
	}
}

func TestThrottleRuleInit(t *testing.T) {
	if err := (&ThrottleRule{}).Init(); !errors.Is(err, ErrNoPattern) {
		t.Errorf("empty rule: err = %v, want ErrNoPattern", err)
	}
	if err := (&ThrottleRule{DomainRegexp: "("}).Init(); err == nil {
		t.Error("invalid regexp must fail Init")
	}
	if err := (&ThrottleRule{DomainGlob: "*.example.com"}).Init(); err != nil {
		t.Errorf("valid glob: %v", err)
	}
}

func TestThrottleRuleMatch(t *testing.T) {
	glob := &ThrottleRule{DomainGlob: "*.example.com"}
	if err := glob.Init(); err != nil {
		t.Fatal(err)
	}
	if !glob.Match("www.example.com") {
		t.Error("glob must match www.example.com")
	}
	if glob.Match("example.org") {
		t.Error("glob must not match example.org")
	}

	re := &ThrottleRule{DomainRegexp: `example\.(com|org)$`}
	if err := re.Init(); err != nil {
		t.Fatal(err)
	}
	if !re.Match("example.org") {
		t.Error("regexp must match example.org")
	}
	if re.Match("example.net") {
		t.Error("regexp must not match example.net")
	}
}

func TestThrottleDelay(t *testing.T) {
	srv := testutil.NewTestServer()
	defer srv.Close()

	b := newTestBackend(t)
	if err := b.Throttle(&ThrottleRule{DomainGlob: "*", Delay: 50 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := getURL(t, b, srv.URL+"/leaf", 0); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("fetch returned after %v, want at least the 50ms delay", elapsed)
	}
}
