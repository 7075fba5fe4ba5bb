// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics wraps a prometheus.Registry the way the teacher's
// MetricsAdapter wraps one for luxmetric: a single in-process registry
// handed to every component that wants to register counters/gauges.
// This package does no HTTP serving itself; cmd/dexgraph exposes Gatherer
// over HTTP at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide metrics registry.
type Registry struct {
	reg *prometheus.Registry
}

// New creates a Registry backed by a fresh prometheus.Registry.
func New() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// Registerer exposes the underlying prometheus.Registerer for components
// that register their own collectors.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying prometheus.Gatherer for an external
// exposition handler to scrape.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
