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

// Package sched runs many Evaluators concurrently against a shared
// event stream.
//
// Each Evaluator is a single-writer actor: one goroutine owns it and
// consumes a channel of operations.  Timer expiry, heartbeat
// snapshots, and run termination are injected into that same channel
// as pseudo-events, so they are serialized with event arrival and a
// last-moment matching event can never race a timeout.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/rovalabs/rova/core"
	"github.com/rovalabs/rova/event"

	"github.com/gorhill/cronexpr"
)

// Adapter is the message-bus surface the scheduler consumes.  The
// transport behind it (MQTT, in-process, whatever) is not the
// scheduler's business.
type Adapter interface {
	// Subscribe returns the stream of events for a topic.  The
	// channel closes when the subscription ends.
	Subscribe(ctx context.Context, topic string) (<-chan *event.Event, error)

	// NotifyActive registers the monitoring-start trigger: the
	// callback fires when the target node is detected.
	NotifyActive(func())

	// NotifyInactive registers the callback fired when the target
	// node goes away.
	NotifyInactive(func())
}

// Reporter consumes verdicts and heartbeat snapshots.
type Reporter interface {
	Verdict(*core.Verdict)
	Snapshot(*core.Snapshot)
}

// Conf provides the scheduler's parameters.
type Conf struct {
	// Heartbeat is the snapshot interval.
	Heartbeat time.Duration

	// HeartbeatCron, when set, schedules snapshots by crontab
	// expression instead of Heartbeat.
	HeartbeatCron string

	// Verbose turns on logging.
	Verbose bool
}

// Scheduler owns one Evaluator per Spec, demultiplexes events by
// topic, drives per-Evaluator timers, and collects verdicts.
type Scheduler struct {
	conf      *Conf
	reporters []Reporter

	runners []*runner

	// byTopic routes events.  Read-only after New.
	byTopic map[string][]*runner

	verdicts  chan *core.Verdict
	snapshots chan *core.Snapshot

	// stop is closed when Run returns; it releases pumps, timers,
	// and runner loops.
	stop chan struct{}

	paused atomic.Bool

	cron *cronexpr.Expression
}

// New builds a Scheduler for the given compiled Specs.
func New(conf *Conf, specs []*core.Spec, reporters ...Reporter) (*Scheduler, error) {
	if conf == nil {
		conf = &Conf{}
	}
	if conf.Heartbeat <= 0 {
		conf.Heartbeat = time.Second
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no specs to schedule")
	}

	s := &Scheduler{
		conf:      conf,
		reporters: reporters,
		byTopic:   make(map[string][]*runner, len(specs)),
		verdicts:  make(chan *core.Verdict, len(specs)),
		snapshots: make(chan *core.Snapshot, 4*len(specs)),
		stop:      make(chan struct{}),
	}

	if conf.HeartbeatCron != "" {
		expr, err := cronexpr.Parse(conf.HeartbeatCron)
		if err != nil {
			return nil, fmt.Errorf("heartbeat cron: %w", err)
		}
		s.cron = expr
	}

	for _, spec := range specs {
		if !spec.Compiled() {
			return nil, fmt.Errorf("spec '%s' is not compiled", spec.Name)
		}
		r := newRunner(s, spec)
		s.runners = append(s.runners, r)
		s.byTopic[spec.Topic] = append(s.byTopic[spec.Topic], r)
	}

	return s, nil
}

// Logf logs if the scheduler is verbose.
func (s *Scheduler) Logf(format string, args ...interface{}) {
	if !s.conf.Verbose {
		return
	}
	log.Printf(format, args...)
}

// Pause stops routing events to evaluators.  Timers keep running.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.Logf("monitoring paused")
}

// Resume restores event routing.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.Logf("monitoring resumed")
}

// Paused reports whether event routing is suspended.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Run waits for the target node, then monitors until every Spec has
// its Verdict.  A graceful node-inactive signal concludes open
// windows; context cancellation forces TIMED_OUT on anything still
// incomplete.  Run emits exactly one Verdict per Spec.
func (s *Scheduler) Run(ctx context.Context, adapter Adapter) error {
	active := make(chan struct{}, 1)
	inactive := make(chan struct{}, 1)
	adapter.NotifyActive(func() {
		select {
		case active <- struct{}{}:
		default:
		}
	})
	adapter.NotifyInactive(func() {
		select {
		case inactive <- struct{}{}:
		default:
		}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-active:
	}
	s.Logf("target node detected; monitoring started")

	defer close(s.stop)

	for topic := range s.byTopic {
		ch, err := adapter.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		go s.pump(ctx, topic, ch)
	}

	timers := s.armTimers()
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for _, r := range s.runners {
		go r.loop()
	}

	go s.heartbeat(ctx)
	go s.forwardSnapshots(ctx)

	// Collect exactly one verdict per runner.  On cancellation,
	// broadcast abort once and keep collecting: the forced
	// TIMED_OUT verdicts still flow through the same channel.
	collected := 0
	aborted := false
	for collected < len(s.runners) {
		if aborted {
			v := <-s.verdicts
			s.report(v)
			collected++
			continue
		}
		select {
		case v := <-s.verdicts:
			s.report(v)
			collected++
		case <-inactive:
			s.Logf("target node removed; concluding")
			s.broadcast(op{kind: opFinish, at: time.Now()})
		case <-ctx.Done():
			s.Logf("canceled; forcing terminal verdicts")
			s.broadcast(op{kind: opAbort, at: time.Now()})
			aborted = true
		}
	}

	s.Logf("monitoring done: %d verdicts", collected)
	return nil
}

func (s *Scheduler) report(v *core.Verdict) {
	s.Logf("verdict %s: %s", v.Spec, v.Status)
	for _, rep := range s.reporters {
		rep.Verdict(v)
	}
}

// pump routes one topic's events to that topic's runners.
func (s *Scheduler) pump(ctx context.Context, topic string, ch <-chan *event.Event) {
	runners := s.byTopic[topic]
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if s.Paused() {
				continue
			}
			for _, r := range runners {
				if r.terminal.Load() {
					continue
				}
				r.send(op{kind: opEvent, ev: ev})
			}
		}
	}
}

// armTimers arms the timein and timeout deadlines for every runner.
// Both are measured from monitoring start; both fire as
// pseudo-events into the runner's serialized channel.
func (s *Scheduler) armTimers() []*time.Timer {
	acc := make([]*time.Timer, 0, 2*len(s.runners))
	for _, r := range s.runners {
		r := r
		acc = append(acc, time.AfterFunc(r.eval.Spec().Timein, func() {
			r.send(op{kind: opActivate, at: time.Now()})
		}))
		if d := r.eval.Spec().Timeout; d > 0 {
			acc = append(acc, time.AfterFunc(d, func() {
				r.send(op{kind: opExpire, at: time.Now()})
			}))
		}
	}
	return acc
}

func (s *Scheduler) broadcast(o op) {
	for _, r := range s.runners {
		r.send(o)
	}
}

// heartbeat requests a snapshot from every live runner at the
// configured interval or cron schedule.
func (s *Scheduler) heartbeat(ctx context.Context) {
	for {
		var fire <-chan time.Time
		if s.cron != nil {
			now := time.Now()
			fire = time.After(s.cron.Next(now).Sub(now))
		} else {
			fire = time.After(s.conf.Heartbeat)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-fire:
			for _, r := range s.runners {
				if r.terminal.Load() {
					continue
				}
				r.send(op{kind: opSnapshot, at: now})
			}
		}
	}
}

func (s *Scheduler) forwardSnapshots(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case sn := <-s.snapshots:
			for _, rep := range s.reporters {
				rep.Snapshot(sn)
			}
		}
	}
}
