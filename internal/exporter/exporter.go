// Package exporter exposes the cached window aggregates as Prometheus
// metrics.
package exporter

import (
	"net/http"
	"strconv"

	"codeberg.org/mutker/solo2d/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solo2"

type Exporter struct {
	reg *prometheus.Registry

	consumption *prometheus.GaugeVec
	cost        *prometheus.GaugeVec
	generation  *prometheus.GaugeVec
	gain        *prometheus.GaugeVec
	temp1       *prometheus.GaugeVec
	temp2       *prometheus.GaugeVec
	coverage    *prometheus.GaugeVec

	refreshes   *prometheus.CounterVec
	lastRefresh prometheus.Gauge
}

func windowGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "window",
		Name:      name,
		Help:      help,
	}, []string{"window"})
}

// New returns an exporter with its own registry.
func New() *Exporter {
	e := &Exporter{
		reg:         prometheus.NewRegistry(),
		consumption: windowGauge("consumption_kwh", "Energy consumed over the window"),
		cost:        windowGauge("cost", "Cost of the energy consumed over the window"),
		generation:  windowGauge("generation_kwh", "Energy generated over the window"),
		gain:        windowGauge("gain", "Value of the energy generated over the window"),
		temp1:       windowGauge("temp1_celsius", "Mean of the first temperature probe over the window"),
		temp2:       windowGauge("temp2_celsius", "Mean of the second temperature probe over the window"),
		coverage:    windowGauge("coverage_ratio", "Share of the window backed by stored records"),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh attempts by result",
		}, []string{"result"}),
		lastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),
	}

	e.reg.MustRegister(
		e.consumption, e.cost, e.generation, e.gain,
		e.temp1, e.temp2, e.coverage,
		e.refreshes, e.lastRefresh,
	)

	return e
}

// OnRefresh updates the metrics from a refresh attempt. Windows without data
// are removed so stale values are not reported.
func (e *Exporter) OnRefresh(res poller.Result) {
	if res.Err != nil {
		e.refreshes.WithLabelValues("failure").Inc()
		return
	}
	e.refreshes.WithLabelValues("success").Inc()
	e.lastRefresh.Set(float64(res.At.Unix()))

	for window, cov := range res.Coverage {
		label := strconv.Itoa(window)
		e.coverage.WithLabelValues(label).Set(cov.Ratio())

		r, ok := res.Records[window]
		if !ok {
			e.delete(label)
			continue
		}

		e.consumption.WithLabelValues(label).Set(r.Consumption)
		e.cost.WithLabelValues(label).Set(r.Cost)
		e.generation.WithLabelValues(label).Set(r.Generation)
		e.gain.WithLabelValues(label).Set(r.Gain)
		e.temp1.WithLabelValues(label).Set(r.Temp1)
		e.temp2.WithLabelValues(label).Set(r.Temp2)
	}
}

func (e *Exporter) delete(label string) {
	for _, g := range []*prometheus.GaugeVec{e.consumption, e.cost, e.generation, e.gain, e.temp1, e.temp2} {
		g.DeleteLabelValues(label)
	}
}

// Registry returns the registry holding the exporter's collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// Refreshes counts refresh attempts by result.
func (e *Exporter) Refreshes() *prometheus.CounterVec {
	return e.refreshes
}

func (e *Exporter) LastRefresh() prometheus.Gauge {
	return e.lastRefresh
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}
