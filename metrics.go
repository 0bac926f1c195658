package dyson

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 迭代监控指标
type Metrics struct {
	Iterations *prometheus.CounterVec // 按结果分类的迭代次数
	Duration   prometheus.Histogram   // 单次迭代耗时
	Version    prometheus.Gauge
	Chi        prometheus.Gauge // 均匀静态磁化率
	MinDeterm  prometheus.Gauge
	MemoryMB   prometheus.Gauge
}

// NewMetrics 在 reg 上注册指标，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dyson_iterations_total",
			Help: "Number of Dyson iterations by outcome",
		}, []string{"outcome"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dyson_iteration_duration_seconds",
			Help:    "Duration of one Dyson iteration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		Version: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dyson_version",
			Help: "Current iteration version",
		}),
		Chi: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dyson_uniform_chi",
			Help: "Uniform static susceptibility of the last committed iteration",
		}),
		MinDeterm: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dyson_min_determinant",
			Help: "Minimum |det(1-W0*Polar)| of the last committed iteration",
		}),
		MemoryMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dyson_resident_memory_megabytes",
			Help: "Resident memory after garbage collection",
		}),
	}
}
