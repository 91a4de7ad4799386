package metrics_collectors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/gps-mapper/internal/models"
	"github.com/benmeehan/gps-mapper/internal/utils"
)

// DefaultCollectTimeout bounds a single CollectHost call.
const DefaultCollectTimeout = 5 * time.Second

// Names of the built-in collectors.
const (
	CPU    = "cpu"
	Memory = "memory"
)

// MetricsRegistry holds the collectors attached to status messages.
type MetricsRegistry struct {
	collectors map[string]MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		collectors: make(map[string]MetricCollector),
	}
}

// Register adds a new metric collector to the registry.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.collectors[collector.Name()] = collector
}

// Names returns the registered collector names in sorted order.
func (r *MetricsRegistry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collect runs every registered collector concurrently and returns the
// values by collector name. Collectors that fail report nil.
func (r *MetricsRegistry) Collect(ctx context.Context) map[string]*float64 {
	ctx, cancel := context.WithTimeout(ctx, DefaultCollectTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]*float64, len(r.collectors))

	tasks := make([]func(), 0, len(r.collectors))
	for name, collector := range r.collectors {
		tasks = append(tasks, func() {
			value := collector.Collect(ctx)
			mu.Lock()
			results[name] = value
			mu.Unlock()
		})
	}
	utils.RunAll(len(tasks), tasks...)

	return results
}

// CollectHost runs the collectors and maps the cpu and memory values, if
// registered, onto a HostMetrics.
func (r *MetricsRegistry) CollectHost(ctx context.Context) *models.HostMetrics {
	results := r.Collect(ctx)
	return &models.HostMetrics{
		CPUUsage: results[CPU],
		Memory:   results[Memory],
	}
}
