/* Copyright 2024 Rova Labs, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package report consumes verdicts and heartbeat snapshots: run
// logs, a verdict database, a live websocket feed, Prometheus
// metrics, and the end-of-run summary.
package report

import (
	"sync"
	"time"

	"github.com/rovalabs/rova/core"
)

// Reporter is what the scheduler feeds.
type Reporter interface {
	Verdict(*core.Verdict)
	Snapshot(*core.Snapshot)
}

// Fanout delivers to several reporters in order.
type Fanout []Reporter

func (f Fanout) Verdict(v *core.Verdict) {
	for _, r := range f {
		r.Verdict(v)
	}
}

func (f Fanout) Snapshot(s *core.Snapshot) {
	for _, r := range f {
		r.Snapshot(s)
	}
}

// Collector accumulates the run's verdicts and per-spec message
// counts for the end-of-run summary.
type Collector struct {
	mu sync.Mutex

	node     string
	started  time.Time
	verdicts []*core.Verdict
	counts   map[string]int
}

// NewCollector starts collecting for the given target node.
func NewCollector(node string) *Collector {
	return &Collector{
		node:    node,
		started: time.Now(),
		counts:  make(map[string]int),
	}
}

func (c *Collector) Verdict(v *core.Verdict) {
	c.mu.Lock()
	c.verdicts = append(c.verdicts, v)
	c.mu.Unlock()
}

func (c *Collector) Snapshot(s *core.Snapshot) {
	c.mu.Lock()
	c.counts[s.Spec] = s.Events
	c.mu.Unlock()
}

// Summary closes the books and renders the run.
func (c *Collector) Summary() *RunSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := 0
	for _, n := range c.counts {
		msgs += n
	}

	return &RunSummary{
		Node:     c.node,
		Started:  c.started,
		Ended:    time.Now(),
		Messages: msgs,
		Verdicts: append([]*core.Verdict{}, c.verdicts...),
	}
}
