// Package observability holds the Prometheus metrics of a run. The CLI is a
// batch job, so metrics are written once to a node_exporter textfile.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "flood_risk"

// Metrics holds the counters, histograms and gauges for one pipeline run.
type Metrics struct {
	Registry *prometheus.Registry

	Rows             *prometheus.CounterVec   // labels: outcome={geocoded,unmatched,invalid,error}
	GeocodeRequests  *prometheus.CounterVec   // labels: method, outcome={match,miss,error}
	GeocodeCache     *prometheus.CounterVec   // labels: result={hit,miss}
	GeocodeDuration  *prometheus.HistogramVec // labels: method
	Samples          *prometheus.CounterVec   // labels: layer, outcome={value,nodata}
	StageDuration    *prometheus.GaugeVec     // labels: stage
	Layers           prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Input rows processed by outcome.",
		}, []string{"outcome"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding lookups by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_duration_seconds",
			Help:      "Geocoding lookup duration in seconds, including rate limit waits.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raster_samples_total",
			Help:      "Raster samples by layer and outcome.",
		}, []string{"layer", "outcome"}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage in the last run.",
		}, []string{"stage"}),
		Layers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raster_layers",
			Help:      "Number of raster layers discovered.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	m.Registry.MustRegister(
		m.Rows,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeDuration,
		m.Samples,
		m.StageDuration,
		m.Layers,
		m.LastRunTimestamp,
	)
	return m
}

// WriteTextfile writes every registered metric in the text exposition format.
// The file is written to a temporary name and renamed into place.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "observability: write metrics to %s", path)
	}
	return nil
}
