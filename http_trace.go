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
	"net/http"
	"net/http/httptrace"
	"time"
)

// FetchTrace records connection timing for one fetch. Traces are
// collected only when Options.TraceFetch is set and are attached to the
// yielded Response.
type FetchTrace struct {
	start, connect time.Time
	// ConnectDuration is the time spent establishing the connection
	ConnectDuration time.Duration
	// FirstByteDuration is the time from connection checkout to the
	// first response byte
	FirstByteDuration time.Duration
}

func (ft *FetchTrace) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(network, addr string) { ft.connect = time.Now() },
		ConnectDone: func(network, addr string, err error) {
			ft.ConnectDuration = time.Since(ft.connect)
		},
		GetConn: func(hostPort string) { ft.start = time.Now() },
		GotFirstResponseByte: func() {
			ft.FirstByteDuration = time.Since(ft.start)
		},
	}
}

// withTrace returns the request with this FetchTrace wired into its
// context.
func (ft *FetchTrace) withTrace(req *http.Request) *http.Request {
	return req.WithContext(httptrace.WithClientTrace(req.Context(), ft.trace()))
}
