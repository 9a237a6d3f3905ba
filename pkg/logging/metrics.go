// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	m "github.com/sleepnet/hypersync/pkg/metrics"
)

// metrics is a logrus hook counting emitted log lines per level.
type metrics struct {
	lines *prometheus.CounterVec
}

func newMetrics() metrics {
	return metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: "log",
			Name:      "lines_total",
			Help:      "Count of log lines emitted, by level.",
		}, []string{"level"}),
	}
}

func (m metrics) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (m metrics) Fire(entry *logrus.Entry) error {
	m.lines.WithLabelValues(entry.Level.String()).Inc()
	return nil
}

func (m metrics) Metrics() []prometheus.Collector {
	return []prometheus.Collector{m.lines}
}
