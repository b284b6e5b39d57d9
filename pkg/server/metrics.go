package server

import (
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-arcade/gamestore/pkg/events"
)

// Metrics holds Prometheus metric descriptors for the game store.
type Metrics struct {
	srv       *Server
	startTime time.Time

	playersOnline    prometheus.Gauge
	roomsOpen        *prometheus.GaugeVec
	gamesTotal       prometheus.Gauge
	connectionsTotal *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	uptimeSeconds    prometheus.Gauge
	goroutines       prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics for the store.
func NewMetrics(srv *Server, startTime time.Time) *Metrics {
	m := &Metrics{
		srv:       srv,
		startTime: startTime,
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamestore_players_online",
			Help: "Number of currently logged-in players.",
		}),
		roomsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gamestore_rooms_open",
			Help: "Number of open rooms by state.",
		}, []string{"state"}),
		gamesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamestore_games_total",
			Help: "Number of active games in the catalog.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamestore_connections_total",
			Help: "Total connections accepted since start, by endpoint.",
		}, []string{"endpoint"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamestore_requests_total",
			Help: "Total requests handled, by endpoint and action.",
		}, []string{"endpoint", "action"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gamestore_events_total",
			Help: "Store lifecycle events observed, by type.",
		}, []string{"type"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamestore_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gamestore_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	prometheus.MustRegister(
		m.playersOnline,
		m.roomsOpen,
		m.gamesTotal,
		m.connectionsTotal,
		m.requestsTotal,
		m.eventsTotal,
		m.uptimeSeconds,
		m.goroutines,
	)

	return m
}

// Receive implements events.Subscriber: every bus event bumps a counter.
func (m *Metrics) Receive(ev events.Event) {
	m.eventsTotal.WithLabelValues(ev.Type.String()).Inc()
}

// Closed implements events.Subscriber. Metrics live as long as the server.
func (m *Metrics) Closed() bool { return false }

// Update refreshes all gauge metrics from current store state.
func (m *Metrics) Update() {
	m.playersOnline.Set(float64(m.srv.presence.Count()))

	waiting, playing := 0, 0
	for _, r := range m.srv.rooms.List("") {
		if r.Status == "playing" {
			playing++
		} else {
			waiting++
		}
	}
	m.roomsOpen.WithLabelValues("waiting").Set(float64(waiting))
	m.roomsOpen.WithLabelValues("playing").Set(float64(playing))

	m.gamesTotal.Set(float64(len(m.srv.catalog.ListActive())))

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		promhttp.Handler().ServeHTTP(w, r)
	})
}

// ServeMetrics starts the metrics HTTP listener in the background.
func (m *Metrics) ServeMetrics(host string, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	addr := fmt.Sprintf("%s:%d", host, port)
	go func() {
		log.Printf("[Store] Metrics listening on %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("[Store] Metrics listener error: %v", err)
		}
	}()
}
