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

// Package bus provides message-bus adapters: the transports that
// discover the target application and turn its messages into Events.
package bus

import (
	"context"
	"sync"

	"github.com/rovalabs/rova/event"
)

// Inproc is an in-process adapter.  Tests and demos publish events
// directly; the node-lifecycle triggers are explicit method calls.
//
// Lifecycle triggers latch: a callback registered after Activate (or
// Deactivate) has already happened fires immediately, so the start
// signal is never lost to registration order.
type Inproc struct {
	mu       sync.Mutex
	subs     map[string][]*inprocSub
	active   []func()
	inactive []func()
	online   bool
	offline  bool
}

// inprocSub guards one subscription channel so a publish racing the
// subscription's end never sends on a closed channel.
type inprocSub struct {
	ctx context.Context
	ch  chan *event.Event

	mu     sync.Mutex
	closed bool
}

func (s *inprocSub) deliver(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *inprocSub) close() {
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// NewInproc makes an empty in-process bus.
func NewInproc() *Inproc {
	return &Inproc{
		subs: make(map[string][]*inprocSub),
	}
}

// Subscribe returns a stream for the topic.  The channel closes when
// ctx is done.
func (b *Inproc) Subscribe(ctx context.Context, topic string) (<-chan *event.Event, error) {
	sub := &inprocSub{
		ctx: ctx,
		ch:  make(chan *event.Event, 128),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s == sub {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// NotifyActive registers a monitoring-start callback.  If the start
// trigger already fired, the callback runs immediately.
func (b *Inproc) NotifyActive(f func()) {
	b.mu.Lock()
	b.active = append(b.active, f)
	fire := b.online
	b.mu.Unlock()
	if fire {
		f()
	}
}

// NotifyInactive registers a target-gone callback.  If the target is
// already gone, the callback runs immediately.
func (b *Inproc) NotifyInactive(f func()) {
	b.mu.Lock()
	b.inactive = append(b.inactive, f)
	fire := b.offline
	b.mu.Unlock()
	if fire {
		f()
	}
}

// Activate fires the monitoring-start trigger.
func (b *Inproc) Activate() {
	b.mu.Lock()
	b.online = true
	fs := append([]func(){}, b.active...)
	b.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

// Deactivate fires the target-gone trigger.
func (b *Inproc) Deactivate() {
	b.mu.Lock()
	b.offline = true
	fs := append([]func(){}, b.inactive...)
	b.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

// Publish delivers an event to the topic's subscribers.  Delivery
// blocks if a subscriber's buffer is full, which keeps test
// publishing deterministic; a subscription that ends mid-publish is
// skipped.
func (b *Inproc) Publish(ev *event.Event) {
	b.mu.Lock()
	subs := append([]*inprocSub{}, b.subs[ev.Topic]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.deliver(ev)
	}
}
