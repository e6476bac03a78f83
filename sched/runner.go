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

package sched

import (
	"sync/atomic"
	"time"

	"github.com/rovalabs/rova/core"
	"github.com/rovalabs/rova/event"
)

type opKind int

const (
	opEvent opKind = iota
	opActivate
	opExpire
	opSnapshot
	opFinish
	opAbort
)

// op is one unit of work for a runner.  Events and timer firings
// take the same path, which is what serializes them.
type op struct {
	kind opKind
	ev   *event.Event
	at   time.Time
}

// runner is the single writer for one Evaluator.  Only its loop
// goroutine touches the Evaluator.
type runner struct {
	s    *Scheduler
	eval *core.Evaluator
	in   chan op

	// terminal lets the routing paths skip this runner without
	// touching evaluator state.
	terminal atomic.Bool
}

func newRunner(s *Scheduler, spec *core.Spec) *runner {
	return &runner{
		s:    s,
		eval: core.NewEvaluator(spec),
		in:   make(chan op, 64),
	}
}

// send queues an op unless the run is over.
func (r *runner) send(o op) {
	select {
	case r.in <- o:
	case <-r.s.stop:
	}
}

// loop consumes ops until the run is over.  The loop keeps draining
// after the verdict so queued senders never block; the evaluator
// ignores everything once terminal.  Cancellation does not end the
// loop directly: the collector broadcasts an abort op, and the loop
// must stay alive to deliver the forced verdict.
func (r *runner) loop() {
	for {
		select {
		case <-r.s.stop:
			return
		case o := <-r.in:
			r.handle(o)
		}
	}
}

func (r *runner) handle(o op) {
	var v *core.Verdict

	switch o.kind {
	case opEvent:
		v = r.eval.HandleEvent(o.ev)
	case opActivate:
		r.eval.Activate(o.at)
	case opExpire:
		v = r.eval.Expire(o.at)
	case opSnapshot:
		if !r.eval.Terminal() {
			r.emitSnapshot(r.eval.Snapshot(o.at))
		}
	case opFinish:
		v = r.eval.Finish(o.at)
	case opAbort:
		v = r.eval.Abort(o.at)
	}

	if v != nil {
		r.terminal.Store(true)
		select {
		case r.s.verdicts <- v:
		case <-r.s.stop:
		}
	}
}

func (r *runner) emitSnapshot(sn *core.Snapshot) {
	select {
	case r.s.snapshots <- sn:
	case <-r.s.stop:
	default:
		// A slow reporter shouldn't stall evaluation; drop the
		// snapshot.
	}
}
