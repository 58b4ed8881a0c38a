// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-softtoken.
//
// go-softtoken is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// Source is polled by the Collector on every interval, typically to
// publish token state gauges via SetTokenState.
type Source func()

// Collector periodically refreshes process gauges and polls its sources.
type Collector struct {
	interval time.Duration
	sources  []Source
	started  time.Time
}

// NewCollector creates a collector polling sources every interval.
//
// Example:
//
//	c := metrics.NewCollector(15*time.Second, mgr.PublishMetrics)
//	go c.Run(ctx)
func NewCollector(interval time.Duration, sources ...Source) *Collector {
	return &Collector{
		interval: interval,
		sources:  sources,
		started:  time.Now(),
	}
}

// Run collects immediately and then on every interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect performs a single collection.
func (c *Collector) Collect() {
	if !IsEnabled() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryAllocBytes.Set(float64(memStats.Alloc))

	ServerUptime.Set(time.Since(c.started).Seconds())

	for _, source := range c.sources {
		source()
	}
}
