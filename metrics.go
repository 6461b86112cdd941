package Surfclass

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 分类与训练过程指标。所有方法对 nil 接收者安全
type Metrics struct {
	Registry *prometheus.Registry

	tiles        prometheus.Counter
	pixels       *prometheus.CounterVec
	tileDuration prometheus.Histogram
	runs         *prometheus.CounterVec
	trees        prometheus.Counter
}

// NewMetrics 创建指标并注册到独立的 Registry
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		tiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surfclass",
			Name:      "tiles_processed_total",
			Help:      "Tiles read, classified and written.",
		}),
		pixels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surfclass",
			Name:      "pixels_total",
			Help:      "Output pixels by validity (classified or nodata).",
		}, []string{"validity"}),
		tileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "surfclass",
			Name:      "tile_duration_seconds",
			Help:      "Time spent on one tile from read to write.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "surfclass",
			Name:      "runs_total",
			Help:      "Classification runs by terminal state.",
		}, []string{"state"}),
		trees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "surfclass",
			Name:      "trees_trained_total",
			Help:      "Decision trees trained.",
		}),
	}
	m.Registry.MustRegister(m.tiles, m.pixels, m.tileDuration, m.runs, m.trees)
	return m
}

func (m *Metrics) observeTile(d time.Duration, valid, invalid int) {
	if m == nil {
		return
	}
	m.tiles.Inc()
	m.pixels.WithLabelValues("classified").Add(float64(valid))
	m.pixels.WithLabelValues("nodata").Add(float64(invalid))
	m.tileDuration.Observe(d.Seconds())
}

func (m *Metrics) observeRun(state State) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) observeTrees(n int) {
	if m == nil {
		return
	}
	m.trees.Add(float64(n))
}

// WriteTextfile 以 node_exporter textfile 格式写出指标
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
