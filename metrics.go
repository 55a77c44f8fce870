// Copyright 2024 The Gopm3 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package gopm3

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one Supervisor.  Each
// Supervisor has its own registry, so several can live in one program
// (tests do this) without colliding.
type Metrics struct {
	reg *prometheus.Registry

	starts        *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	exits         *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	healthFails   *prometheus.CounterVec
	up            *prometheus.GaugeVec
	uptime        *prometheus.GaugeVec
	reloads       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		starts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_process_starts_total",
			Help: "Successful process spawns",
		}, []string{"process"}),
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_process_restarts_total",
			Help: "Restarts, both automatic and requested",
		}, []string{"process"}),
		exits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_process_exits_total",
			Help: "Process exits by result (clean, failed, stopped)",
		}, []string{"process", "result"}),
		spawnFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_process_spawn_failures_total",
			Help: "Processes the operating system refused to launch",
		}, []string{"process"}),
		healthFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_process_health_check_failures_total",
			Help: "Failed health check probes",
		}, []string{"process"}),
		up: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gopm3_process_up",
			Help: "1 when the process is running",
		}, []string{"process"}),
		uptime: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gopm3_process_last_run_seconds",
			Help: "Duration of the most recently finished run",
		}, []string{"process"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gopm3_config_reloads_total",
			Help: "Configuration reloads by result (ok, error)",
		}, []string{"result"}),
	}
}

// Registry returns the registry for serving with promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) started(name string) {
	m.starts.WithLabelValues(name).Inc()
	m.up.WithLabelValues(name).Set(1)
}

func (m *Metrics) restarted(name string) {
	m.restarts.WithLabelValues(name).Inc()
}

func (m *Metrics) exited(name, result string, ran time.Duration) {
	m.exits.WithLabelValues(name, result).Inc()
	m.up.WithLabelValues(name).Set(0)
	m.uptime.WithLabelValues(name).Set(ran.Seconds())
}

func (m *Metrics) spawnFailed(name string) {
	m.spawnFailures.WithLabelValues(name).Inc()
	m.up.WithLabelValues(name).Set(0)
}

func (m *Metrics) healthFailed(name string) {
	m.healthFails.WithLabelValues(name).Inc()
}

// Reloaded counts a configuration reload attempt.
func (m *Metrics) Reloaded(err error) {
	if err != nil {
		m.reloads.WithLabelValues("error").Inc()
	} else {
		m.reloads.WithLabelValues("ok").Inc()
	}
}

// forget drops the series of a process that left the configuration.
func (m *Metrics) forget(name string) {
	labels := prometheus.Labels{"process": name}
	m.starts.DeletePartialMatch(labels)
	m.restarts.DeletePartialMatch(labels)
	m.exits.DeletePartialMatch(labels)
	m.spawnFailures.DeletePartialMatch(labels)
	m.healthFails.DeletePartialMatch(labels)
	m.up.DeletePartialMatch(labels)
	m.uptime.DeletePartialMatch(labels)
}
