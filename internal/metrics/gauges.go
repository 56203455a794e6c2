// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 扫描过程埋点指标（Counter/Gauge/Histogram）
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics 扫描指标集合
type SweepMetrics struct {
	// 运行相关
	RunsTotal      *prometheus.CounterVec
	RunsInProgress prometheus.Gauge
	RunDuration    prometheus.Histogram

	// 流相关
	FlowsTotal  *prometheus.CounterVec
	ActiveFlows prometheus.Gauge

	// 采样相关
	SamplesTotal prometheus.Counter

	// 资源释放
	TeardownsTotal prometheus.Counter
}

// NewSweepMetrics 创建指标集合并注册到 registry
func NewSweepMetrics(registry *prometheus.Registry) *SweepMetrics {
	m := &SweepMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccsweep",
			Name:      "runs_total",
			Help:      "Total number of experiment runs by terminal status",
		}, []string{"status"}),

		RunsInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccsweep",
			Name:      "runs_in_progress",
			Help:      "Number of runs currently executing (0 or 1)",
		}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ccsweep",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of experiment runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),

		FlowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccsweep",
			Name:      "flows_total",
			Help:      "Total number of flows by terminal status",
		}, []string{"status"}),

		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ccsweep",
			Name:      "active_flows",
			Help:      "Number of flows currently generating traffic",
		}),

		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccsweep",
			Name:      "samples_total",
			Help:      "Total number of recorded measurement samples",
		}),

		TeardownsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccsweep",
			Name:      "teardowns_total",
			Help:      "Total number of topology teardowns",
		}),
	}

	registry.MustRegister(
		m.RunsTotal,
		m.RunsInProgress,
		m.RunDuration,
		m.FlowsTotal,
		m.ActiveFlows,
		m.SamplesTotal,
		m.TeardownsTotal,
	)
	return m
}
