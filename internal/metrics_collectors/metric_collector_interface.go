package metrics_collectors

import "context"

// MetricCollector defines the interface for collecting a specific host metric.
type MetricCollector interface {
	Name() string                         // Name of the metric (e.g., "cpu", "memory")
	Collect(ctx context.Context) *float64 // Collect the metric, nil when unavailable
	Unit() string                         // Unit of the metric (e.g., "percentage")
}
