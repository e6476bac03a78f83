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

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rovalabs/rova/event"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConf configures the MQTT adapter.
type MQTTConf struct {
	// Broker is something like "tcp://localhost:1883".
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	QoS      byte   `yaml:"qos"`

	// PresenceTopic carries the target node's lifecycle: payload
	// "online" fires the monitoring-start trigger, "offline" the
	// target-gone trigger.
	PresenceTopic string `yaml:"presence_topic"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `yaml:"quiesce,omitempty"`

	KeepAlive time.Duration `yaml:"keep_alive,omitempty"`
}

// MQTT adapts an MQTT broker to the scheduler's event stream.
// Message payloads are decoded as JSON and flattened to dotted field
// paths; a non-JSON payload becomes {"data": <string>}, which is how
// plain string messages travel.
type MQTT struct {
	conf   *MQTTConf
	client mqtt.Client

	mu       sync.Mutex
	active   []func()
	inactive []func()

	// Presence latches: a callback registered after the node already
	// announced itself still fires, so the start signal is never
	// lost to registration order.
	online  bool
	offline bool
}

// DialMQTT connects and subscribes to the presence topic.
func DialMQTT(conf *MQTTConf) (*MQTT, error) {
	if conf.Broker == "" {
		return nil, fmt.Errorf("no broker")
	}
	if conf.ClientID == "" {
		conf.ClientID = "rova"
	}
	if conf.KeepAlive == 0 {
		conf.KeepAlive = 10 * time.Second
	}
	if conf.Quiesce == 0 {
		conf.Quiesce = 100
	}

	opts := mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetKeepAlive(conf.KeepAlive).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if conf.Username != "" {
		opts = opts.SetUsername(conf.Username)
	}
	if conf.Password != "" {
		opts = opts.SetPassword(conf.Password)
	}

	m := &MQTT{conf: conf}

	client := mqtt.NewClient(opts)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", conf.Broker, t.Error())
	}
	m.client = client

	if conf.PresenceTopic != "" {
		t := client.Subscribe(conf.PresenceTopic, conf.QoS, m.presence)
		if t.Wait() && t.Error() != nil {
			client.Disconnect(conf.Quiesce)
			return nil, fmt.Errorf("mqtt subscribe %s: %w", conf.PresenceTopic, t.Error())
		}
	}

	return m, nil
}

func (m *MQTT) presence(_ mqtt.Client, msg mqtt.Message) {
	var fs []func()
	m.mu.Lock()
	switch string(msg.Payload()) {
	case "online":
		m.online = true
		fs = append(fs, m.active...)
	case "offline":
		m.offline = true
		fs = append(fs, m.inactive...)
	}
	m.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

// NotifyActive registers a monitoring-start callback.  If the node is
// already online, the callback runs immediately.
func (m *MQTT) NotifyActive(f func()) {
	m.mu.Lock()
	m.active = append(m.active, f)
	fire := m.online
	m.mu.Unlock()
	if fire {
		f()
	}
}

// NotifyInactive registers a target-gone callback.  If the node
// already went offline, the callback runs immediately.
func (m *MQTT) NotifyInactive(f func()) {
	m.mu.Lock()
	m.inactive = append(m.inactive, f)
	fire := m.offline
	m.mu.Unlock()
	if fire {
		f()
	}
}

// Subscribe maps an MQTT subscription to an Event stream.
func (m *MQTT) Subscribe(ctx context.Context, topic string) (<-chan *event.Event, error) {
	ch := make(chan *event.Event, 128)

	// An in-flight handler must never race the close: the closed
	// flag and the send happen under one lock, and the handler bails
	// out via ctx instead of blocking a dead subscription.
	var mu sync.Mutex
	closed := false

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		ev := Decode(topic, time.Now(), msg.Payload())
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}

	if t := m.client.Subscribe(topic, m.conf.QoS, handler); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, t.Error())
	}

	go func() {
		<-ctx.Done()
		t := m.client.Unsubscribe(topic)
		t.Wait()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()

	return ch, nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(m.conf.Quiesce)
	return nil
}

// Decode turns a raw payload into an Event.  JSON objects flatten to
// dotted paths; a bare JSON scalar or non-JSON payload lands under
// "data".
func Decode(topic string, at time.Time, payload []byte) *event.Event {
	var x interface{}
	if err := json.Unmarshal(payload, &x); err != nil {
		return event.New(topic, at, map[string]interface{}{"data": string(payload)})
	}
	if m, is := x.(map[string]interface{}); is {
		return event.Flatten(topic, at, m)
	}
	return event.New(topic, at, map[string]interface{}{"data": x})
}
