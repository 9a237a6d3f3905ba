// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics provides the prometheus conventions shared by every
// instrumented package: the common namespace and the helper collecting
// the prometheus fields of a metrics struct.
package metrics

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is prefixed before every metric. If it is changed, it must be
// done before any metrics collector is registered.
const Namespace = "hypersync"

// Collector is implemented by packages exposing prometheus metrics.
type Collector interface {
	Metrics() []prometheus.Collector
}

// PrometheusCollectorsFromFields returns all the exported struct fields of
// i that are prometheus collectors.
func PrometheusCollectorsFromFields(i interface{}) (cs []prometheus.Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	for n := 0; n < v.NumField(); n++ {
		if !v.Field(n).CanInterface() {
			continue
		}
		if u, ok := v.Field(n).Interface().(prometheus.Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}
