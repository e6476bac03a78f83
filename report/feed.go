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
	"log"
	"net/http"
	"sync"

	"github.com/rovalabs/rova/core"

	"github.com/gorilla/websocket"
)

// Feed streams verdicts and heartbeat snapshots to websocket
// observers as JSON frames:
//
//	{"type":"verdict","verdict":{...}}
//	{"type":"snapshot","snapshot":{...}}
type Feed struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	srv *http.Server
}

type frame struct {
	Type     string         `json:"type"`
	Verdict  *core.Verdict  `json:"verdict,omitempty"`
	Snapshot *core.Snapshot `json:"snapshot,omitempty"`
}

// NewFeed makes a Feed that will listen on addr when started.
func NewFeed(addr string) *Feed {
	f := &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
	f.srv = &http.Server{Addr: addr, Handler: f}
	return f
}

// Start serves the feed in its own goroutine.
func (f *Feed) Start() {
	go func() {
		if err := f.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("feed: %v", err)
		}
	}()
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("feed upgrade: %v", err)
		return
	}

	f.mu.Lock()
	f.conns[conn] = true
	f.mu.Unlock()

	// Observers don't talk; the read loop just notices
	// disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conns[conn] {
		delete(f.conns, conn)
		conn.Close()
	}
	f.mu.Unlock()
}

// broadcast writes under the lock: a websocket connection tolerates
// only one concurrent writer, and verdicts and snapshots arrive from
// different goroutines.
func (f *Feed) broadcast(fr *frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		if err := c.WriteJSON(fr); err != nil {
			delete(f.conns, c)
			c.Close()
		}
	}
}

func (f *Feed) Verdict(v *core.Verdict) {
	f.broadcast(&frame{Type: "verdict", Verdict: v})
}

func (f *Feed) Snapshot(s *core.Snapshot) {
	f.broadcast(&frame{Type: "snapshot", Snapshot: s})
}

// Close shuts the server and every connection down.
func (f *Feed) Close() error {
	f.mu.Lock()
	for c := range f.conns {
		c.Close()
	}
	f.conns = make(map[*websocket.Conn]bool)
	f.mu.Unlock()
	return f.srv.Close()
}
