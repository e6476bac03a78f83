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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rovalabs/rova/core"
)

// LogReporter writes run logs under <dir>/<node>_<date>/: one file
// with everything (snapshots included) and one with verdicts only.
type LogReporter struct {
	all  *log.Logger
	info *log.Logger

	files []*os.File

	// Dir is the run's log directory.
	Dir string
}

// NewLogReporter creates the run's log directory and files.
func NewLogReporter(dir, node string) (*LogReporter, error) {
	base := nodeBase(node)
	runDir := filepath.Join(dir, fmt.Sprintf("%s_%s", base, time.Now().Format("2006_01_02")))
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, err
	}

	allFile, err := os.OpenFile(filepath.Join(runDir, base+"_assessment.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	infoFile, err := os.OpenFile(filepath.Join(runDir, base+"_assessment_info.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		allFile.Close()
		return nil, err
	}

	l := &LogReporter{
		all:   log.New(allFile, "", log.LstdFlags|log.Lmicroseconds),
		info:  log.New(infoFile, "", log.LstdFlags|log.Lmicroseconds),
		files: []*os.File{allFile, infoFile},
		Dir:   runDir,
	}
	l.all.Printf("------------ RUNTIME ASSESSMENT: %s ------------", node)
	l.info.Printf("------------ RUNTIME ASSESSMENT: %s ------------", node)
	return l, nil
}

func nodeBase(node string) string {
	parts := strings.Split(strings.Trim(node, "/"), "/")
	return parts[len(parts)-1]
}

func (l *LogReporter) Verdict(v *core.Verdict) {
	line := fmt.Sprintf("verdict %s (topic %s, mode %s): %s", v.Spec, v.Topic, v.Mode, v.Status)
	if v.Value != nil {
		line += fmt.Sprintf(" value=%g", *v.Value)
	}
	if v.Rate != nil {
		line += fmt.Sprintf(" rate=%g/s", *v.Rate)
	}
	l.all.Print(line)
	l.info.Print(line)
}

func (l *LogReporter) Snapshot(s *core.Snapshot) {
	line := fmt.Sprintf("heartbeat %s: %s count=%d matched=%d", s.Spec, s.Status, s.Count, s.Matched)
	if s.Mean != nil {
		line += fmt.Sprintf(" mean=%g", *s.Mean)
	}
	if s.Rate != nil {
		line += fmt.Sprintf(" rate=%g/s", *s.Rate)
	}
	l.all.Print(line)
}

// WriteSummary writes the Markdown and HTML summary files into the
// run directory.
func (l *LogReporter) WriteSummary(s *RunSummary) error {
	md := s.Markdown()
	if err := os.WriteFile(filepath.Join(l.Dir, "summary.md"), md, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.Dir, "summary.html"), s.HTML(), 0644)
}

// Close closes the log files.
func (l *LogReporter) Close() error {
	var err error
	for _, f := range l.files {
		if e := f.Close(); e != nil {
			err = e
		}
	}
	return err
}
