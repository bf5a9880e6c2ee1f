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
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseCrawlTime is the minimum effective time box for a crawl.
	// Invalid or non-positive TimeBox options fall back to it.
	BaseCrawlTime = 30 * time.Second
	// MaxCrawlTime caps the effective time box.
	MaxCrawlTime = 600 * time.Second
	// BaseURLCount is the minimum effective page limit.
	BaseURLCount = 10
	// MaxURLCount caps the effective page limit.
	MaxURLCount = 10000

	// memoryDangerRatio is the usage/limit ratio at or above which the
	// governor reports memory pressure.
	memoryDangerRatio = 0.80
)

// Cgroup memory accounting locations, v2 first with a v1 fallback.
// Absence of both disables memory-pressure checking.
var (
	cgroupV2Usage = "/sys/fs/cgroup/memory.current"
	cgroupV2Limit = "/sys/fs/cgroup/memory.max"
	cgroupV1Usage = "/sys/fs/cgroup/memory/memory.usage_in_bytes"
	cgroupV1Limit = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
)

// governor holds the clamped resource limits of one crawl and answers
// advisory resource questions for the driver. It never preempts an
// in-flight fetch; the driver polls it before each dequeue.
type governor struct {
	timeBox  time.Duration
	maxPages int
	deadline time.Time

	// memory accounting file pair, overridable in tests
	usagePath string
	limitPath string
}

// newGovernor clamps the caller-supplied limits into their allowed ranges
// and fixes the absolute deadline at now + the effective time box.
func newGovernor(timeBoxSeconds, maxURLs int, now time.Time) *governor {
	g := &governor{
		timeBox:   clampTimeBox(timeBoxSeconds),
		maxPages:  clampMaxURLs(maxURLs),
		usagePath: cgroupV2Usage,
		limitPath: cgroupV2Limit,
	}
	if _, err := os.Stat(g.usagePath); err != nil {
		g.usagePath = cgroupV1Usage
		g.limitPath = cgroupV1Limit
	}
	g.deadline = now.Add(g.timeBox)
	return g
}

func clampTimeBox(seconds int) time.Duration {
	if seconds <= 0 {
		return BaseCrawlTime
	}
	d := time.Duration(seconds) * time.Second
	if d < BaseCrawlTime {
		return BaseCrawlTime
	}
	if d > MaxCrawlTime {
		return MaxCrawlTime
	}
	return d
}

func clampMaxURLs(n int) int {
	if n <= 0 {
		return BaseURLCount
	}
	if n < BaseURLCount {
		return BaseURLCount
	}
	if n > MaxURLCount {
		return MaxURLCount
	}
	return n
}

// deadlineExceeded reports whether the crawl's absolute deadline has
// passed at the given instant.
func (g *governor) deadlineExceeded(now time.Time) bool {
	return now.After(g.deadline)
}

// pageBudgetExhausted reports whether visiting one more page would exceed
// the effective page limit.
func (g *governor) pageBudgetExhausted(visited int) bool {
	return visited >= g.maxPages
}

// memoryDanger reports whether the host's memory accounting shows usage
// at or above the danger ratio. A governor that cannot assess pressure
// does not block crawling: missing files, unreadable values, zero or
// unlimited limits all report false.
func (g *governor) memoryDanger() bool {
	usage, ok := readCgroupValue(g.usagePath)
	if !ok || usage == 0 {
		return false
	}
	limit, ok := readCgroupValue(g.limitPath)
	if !ok || limit == 0 {
		return false
	}
	return float64(usage)/float64(limit) >= memoryDangerRatio
}

// readCgroupValue reads one integer from a cgroup accounting file.
// The v2 sentinel "max" means no limit and reports not-ok.
func readCgroupValue(path string) (uint64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "max" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
