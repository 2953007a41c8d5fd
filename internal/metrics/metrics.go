// Package metrics exposes Prometheus counters for battles, bids and HTTP
// traffic on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "valor"

// Metrics implements the combat and auction metric hooks
type Metrics struct {
	registry       *prometheus.Registry
	roundsResolved prometheus.Counter
	combatFinished prometheus.Counter
	bids           *prometheus.CounterVec
	settled        *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roundsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combat_rounds_total",
			Help:      "Combat rounds resolved.",
		}),
		combatFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "combat_finished_total",
			Help:      "Battles that reached a winner.",
		}),
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_bids_total",
			Help:      "Bids by result.",
		}, []string{"result"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_settled_total",
			Help:      "Settled auctions by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.roundsResolved,
		m.combatFinished,
		m.bids,
		m.settled,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RoundResolved counts a combat round in which both actions were applied
func (m *Metrics) RoundResolved() { m.roundsResolved.Inc() }

// CombatFinished counts a battle that ended with a winner
func (m *Metrics) CombatFinished() { m.combatFinished.Inc() }

// BidAccepted counts a bid that became the highest bid
func (m *Metrics) BidAccepted() { m.bids.WithLabelValues("accepted").Inc() }

// BidRejected counts a refused bid under its rejection reason
func (m *Metrics) BidRejected(reason string) { m.bids.WithLabelValues(reason).Inc() }

// AuctionSettled counts a settled auction as sold or closed without bids
func (m *Metrics) AuctionSettled(withWinner bool) {
	outcome := "no_bids"
	if withWinner {
		outcome = "sold"
	}
	m.settled.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request latency labelled by the matched chi route
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
