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

package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/rovalabs/rova/core"

	"github.com/russross/blackfriday/v2"
)

// RunSummary is the end-of-run report: the run's metrics and every
// verdict.
type RunSummary struct {
	Node     string
	Started  time.Time
	Ended    time.Time
	Messages int
	Verdicts []*core.Verdict
}

// ExecutionTime is how long monitoring ran.
func (s *RunSummary) ExecutionTime() time.Duration {
	return s.Ended.Sub(s.Started)
}

// Frequency is the overall observed message rate in events/second.
func (s *RunSummary) Frequency() float64 {
	secs := s.ExecutionTime().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Messages) / secs
}

// Passed counts the PASSED verdicts.
func (s *RunSummary) Passed() int {
	n := 0
	for _, v := range s.Verdicts {
		if v.Status == core.Passed {
			n++
		}
	}
	return n
}

// Markdown renders the summary.
func (s *RunSummary) Markdown() []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# Runtime assessment: %s\n\n", s.Node)
	fmt.Fprintf(&b, "- Started: %s\n", s.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Ended: %s\n", s.Ended.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Execution time: %.2fs\n", s.ExecutionTime().Seconds())
	fmt.Fprintf(&b, "- Messages observed: %d\n", s.Messages)
	fmt.Fprintf(&b, "- Overall frequency: %.2f/s\n", s.Frequency())
	fmt.Fprintf(&b, "- Requirements passed: %d of %d\n\n", s.Passed(), len(s.Verdicts))

	fmt.Fprintf(&b, "## Verdicts\n\n")
	fmt.Fprintf(&b, "| Specification | Topic | Mode | Status | Value | Rate |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	for _, v := range s.Verdicts {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			v.Spec, v.Topic, v.Mode, v.Status, num(v.Value), num(v.Rate))
	}

	for _, v := range s.Verdicts {
		if v.Status == core.Passed || len(v.Evidence) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", v.Spec, v.Status)
		for _, e := range v.Evidence {
			if e.Matched {
				fmt.Fprintf(&b, "- target %d (%s): matched at %s\n", e.Index, e.Kind, e.At.Format(time.RFC3339))
			} else {
				fmt.Fprintf(&b, "- target %d (%s): never matched\n", e.Index, e.Kind)
			}
		}
	}

	return b.Bytes()
}

// HTML renders the Markdown summary as HTML.
func (s *RunSummary) HTML() []byte {
	return blackfriday.Run(s.Markdown())
}

func num(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.4g", *p)
}
