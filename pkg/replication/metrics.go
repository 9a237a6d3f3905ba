// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replication

import (
	"github.com/prometheus/client_golang/prometheus"

	m "github.com/sleepnet/hypersync/pkg/metrics"
)

type metrics struct {
	FramesIn        prometheus.Counter
	FramesOut       prometheus.Counter
	RequestsSent    prometheus.Counter
	ChunksSent      prometheus.Counter
	ChunksReceived  prometheus.Counter
	ProofFailures   prometheus.Counter
	UnknownMessages prometheus.Counter
	PendingRequests prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "replication"

	return metrics{
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "frames_in_total",
			Help:      "Number of frames read from the stream, keepalives excluded.",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "frames_out_total",
			Help:      "Number of frames written to the stream.",
		}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_sent_total",
			Help:      "Number of chunk requests sent to the remote.",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "chunks_sent_total",
			Help:      "Number of data messages served to the remote.",
		}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "chunks_received_total",
			Help:      "Number of data messages that verified and were stored.",
		}),
		ProofFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "proof_failures_total",
			Help:      "Number of data messages discarded for failing proof verification.",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unknown_messages_total",
			Help:      "Number of messages skipped for carrying a reserved or unknown type.",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pending_requests",
			Help:      "Outbound requests awaiting an answer.",
		}),
	}
}

// Metrics returns the session's prometheus collectors for registration.
func (s *Session) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
