//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package logship

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "logship"
)

// Metrics holds the shipper's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	enqueued   prometheus.Counter
	duplicates prometheus.Counter
	evicted    prometheus.Counter
	dropped    prometheus.Counter
	sends      *prometheus.CounterVec
	depth      prometheus.Gauge
}

// NewMetrics allocates the collectors and registers them with reg. A nil reg
// returns nil metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_enqueued_total",
			Help:      "Number of records appended to the persisted queue.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_duplicate_total",
			Help:      "Number of records ignored because an identical record was queued.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_evicted_total",
			Help:      "Number of records dropped because the queue was full.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_dropped_total",
			Help:      "Number of rejected records removed by the drop reject policy.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sends_total",
			Help:      "Number of delivery attempts by outcome.",
		}, []string{"outcome"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Number of records currently queued.",
		}),
	}

	for _, c := range []prometheus.Collector{m.enqueued, m.duplicates, m.evicted, m.dropped, m.sends, m.depth} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) recordEnqueued() {
	if m != nil {
		m.enqueued.Inc()
	}
}

func (m *Metrics) recordDuplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) recordEvicted(n int) {
	if m != nil {
		m.evicted.Add(float64(n))
	}
}

func (m *Metrics) recordDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) recordSend(kind OutcomeKind) {
	if m != nil {
		m.sends.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) setDepth(n int) {
	if m != nil {
		m.depth.Set(float64(n))
	}
}
