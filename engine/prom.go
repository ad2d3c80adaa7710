package engine

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PromExporter owns a private prometheus.Registry exposing one node's
// cluster-coordination state: role, composite score, confidence-derived Ψ
// components, the active weight vector, and neighbor count. Mirrors
// ptp/sptp/stats.PrometheusExporter's own-registry-plus-gauges shape.
type PromExporter struct {
	registry *prometheus.Registry
	engine   *Engine

	role          prometheus.Gauge
	compositeGoal prometheus.Gauge
	neighborCount prometheus.Gauge
	weightBattery prometheus.Gauge
	weightUptime  prometheus.Gauge
	weightTrust   prometheus.Gauge
	weightLinkQ   prometheus.Gauge
	confBattery   prometheus.Gauge
	confUptime    prometheus.Gauge
	confTrust     prometheus.Gauge
	confLinkQ     prometheus.Gauge
}

// NewPromExporter creates an exporter for e, registering all gauges.
func NewPromExporter(e *Engine) *PromExporter {
	r := prometheus.NewRegistry()
	x := &PromExporter{
		registry: r,
		engine:   e,
		role:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_node_role", Help: "current node role, 0=INIT..5=SLEEP"}),
		compositeGoal: prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_composite_score", Help: "current composite/STELLAR score"}),
		neighborCount: prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_neighbor_count", Help: "number of tracked neighbors"}),
		weightBattery: prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_weight_battery", Help: "active battery weight"}),
		weightUptime:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_weight_uptime", Help: "active uptime weight"}),
		weightTrust:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_weight_trust", Help: "active trust weight"}),
		weightLinkQ:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_weight_linkq", Help: "active link-quality weight"}),
		confBattery:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_confidence_battery", Help: "entropy-derived battery confidence"}),
		confUptime:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_confidence_uptime", Help: "entropy-derived uptime confidence"}),
		confTrust:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_confidence_trust", Help: "entropy-derived trust confidence"}),
		confLinkQ:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "wsncoord_confidence_linkq", Help: "entropy-derived link-quality confidence"}),
	}
	for _, g := range []prometheus.Collector{
		x.role, x.compositeGoal, x.neighborCount,
		x.weightBattery, x.weightUptime, x.weightTrust, x.weightLinkQ,
		x.confBattery, x.confUptime, x.confTrust, x.confLinkQ,
	} {
		_ = r.Register(g)
	}
	return x
}

// scrape refreshes every gauge from the engine's current state.
func (x *PromExporter) scrape() {
	s := x.engine.MetricsSnapshot()
	x.role.Set(float64(x.engine.State()))
	x.compositeGoal.Set(s.CompositeScore)
	x.neighborCount.Set(float64(x.engine.neighbors.Len()))
	x.weightBattery.Set(s.Weights.Battery)
	x.weightUptime.Set(s.Weights.Uptime)
	x.weightTrust.Set(s.Weights.Trust)
	x.weightLinkQ.Set(s.Weights.LinkQuality)
	x.confBattery.Set(s.Confidence[0])
	x.confUptime.Set(s.Confidence[1])
	x.confTrust.Set(s.Confidence[2])
	x.confLinkQ.Set(s.Confidence[3])
}

// Start scrapes on scrapeInterval and serves /metrics on listenPort,
// blocking the calling goroutine. Callers run it in its own goroutine.
func (x *PromExporter) Start(listenPort int, scrapeInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(scrapeInterval)
		defer ticker.Stop()
		for range ticker.C {
			x.scrape()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", listenPort), mux))
}
