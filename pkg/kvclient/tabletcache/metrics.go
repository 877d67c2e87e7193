// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package tabletcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the cache's Prometheus metrics.
type Metrics struct {
	Lookups       prometheus.Counter
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Replacements  prometheus.Counter
	Evictions     prometheus.Counter
	Invalidations prometheus.Counter
}

// NewMetrics creates the cache metrics and registers them with reg. A nil
// reg registers with a throwaway registry, which keeps tests and embedders
// that don't scrape from colliding on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_lookups_total",
			Help: "Total tablet location lookups",
		}),
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_hits_total",
			Help: "Lookups served from the cache",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_misses_total",
			Help: "Lookups that consulted the tablet directory",
		}),
		Replacements: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_replacements_total",
			Help: "Cached locations overwritten by a fresh fetch",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_evictions_total",
			Help: "Cached locations removed because the tablet is gone",
		}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "tabletcache_invalidations_total",
			Help: "Leader demotions and replica removals applied to cached locations",
		}),
	}
}
