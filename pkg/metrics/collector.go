package metrics

import (
	"sync"
	"time"
)

// WorkerSource reports worker liveness
type WorkerSource interface {
	IsRunning(name string) bool
}

// Collector periodically refreshes the worker gauges. Exits are also
// reported as they happen; polling catches workers that were never started.
type Collector struct {
	source   WorkerSource
	workers  []string
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a collector for the named workers
func NewCollector(source WorkerSource, workers []string) *Collector {
	return &Collector{
		source:   source,
		workers:  workers,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Collector) collect() {
	for _, name := range c.workers {
		SetWorkerRunning(name, c.source.IsRunning(name))
	}
}
