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
	"net/http"

	"github.com/rovalabs/rova/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the monitoring run to Prometheus: verdict counts
// by status and, per heartbeat, each live specification's aggregate.
type Metrics struct {
	reg *prometheus.Registry

	verdicts  *prometheus.CounterVec
	events    *prometheus.GaugeVec
	aggregate *prometheus.GaugeVec
}

// NewMetrics builds a Metrics with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rova_verdicts_total",
			Help: "Verdicts emitted, by terminal status.",
		}, []string{"status"}),
		events: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rova_spec_events",
			Help: "Events routed so far per specification.",
		}, []string{"spec", "topic"}),
		aggregate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rova_spec_aggregate",
			Help: "Running aggregate per specification and statistic.",
		}, []string{"spec", "stat"}),
	}
	m.reg.MustRegister(m.verdicts, m.events, m.aggregate)
	return m
}

func (m *Metrics) Verdict(v *core.Verdict) {
	m.verdicts.WithLabelValues(string(v.Status)).Inc()
}

func (m *Metrics) Snapshot(s *core.Snapshot) {
	m.events.WithLabelValues(s.Spec, s.Topic).Set(float64(s.Events))
	set := func(stat string, p *float64) {
		if p != nil {
			m.aggregate.WithLabelValues(s.Spec, stat).Set(*p)
		}
	}
	set("mean", s.Mean)
	set("min", s.Min)
	set("max", s.Max)
	set("last", s.Last)
	set("rate", s.Rate)
}

// Handler serves the registry, for mounting on the metrics address.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server for the metrics endpoint.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
