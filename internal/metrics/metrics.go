// Package metrics holds the Prometheus collectors of the game service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/park285/cheese-web/internal/gamestore"
)

type Metrics struct {
	reg *prometheus.Registry

	moves         *prometheus.CounterVec
	gamesCreated  prometheus.Counter
	gamesFinished *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	watchers      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chess",
			Name:      "moves_total",
			Help:      "Move submissions by outcome code.",
		}, []string{"code"}),
		gamesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chess",
			Name:      "games_created_total",
			Help:      "Game sessions created.",
		}),
		gamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chess",
			Name:      "games_finished_total",
			Help:      "Game sessions finished by termination method.",
		}, []string{"method"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chess",
			Name:      "store_op_seconds",
			Help:      "Game store call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chess",
			Name:      "watchers",
			Help:      "Open websocket watch streams.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.moves, m.gamesCreated, m.gamesFinished, m.storeLatency, m.watchers,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) MoveObserved(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.moves.WithLabelValues(code).Inc()
}

func (m *Metrics) GameCreated() {
	if m == nil {
		return
	}
	m.gamesCreated.Inc()
}

func (m *Metrics) GameFinished(method string) {
	if m == nil {
		return
	}
	m.gamesFinished.WithLabelValues(method).Inc()
}

func (m *Metrics) WatcherDelta(d int) {
	if m == nil {
		return
	}
	m.watchers.Add(float64(d))
}

func (m *Metrics) observeStore(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, gamestore.ErrNotFound):
		result = "not_found"
	case errors.Is(err, gamestore.ErrVersionConflict):
		result = "conflict"
	case errors.Is(err, gamestore.ErrExists):
		result = "exists"
	default:
		result = "error"
	}
	m.storeLatency.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// InstrumentStore wraps s so every call is timed. With a nil receiver s is
// returned unchanged.
func (m *Metrics) InstrumentStore(s gamestore.Store) gamestore.Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, m: m}
}

type instrumentedStore struct {
	next gamestore.Store
	m    *Metrics
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (g *gamestore.Game, err error) {
	defer func(start time.Time) { s.m.observeStore("get", start, err) }(time.Now())
	return s.next.Get(ctx, id)
}

func (s *instrumentedStore) Insert(ctx context.Context, g *gamestore.Game) (err error) {
	defer func(start time.Time) { s.m.observeStore("insert", start, err) }(time.Now())
	return s.next.Insert(ctx, g)
}

func (s *instrumentedStore) UpdateIfVersion(ctx context.Context, g *gamestore.Game, expected int64) (err error) {
	defer func(start time.Time) { s.m.observeStore("update", start, err) }(time.Now())
	return s.next.UpdateIfVersion(ctx, g, expected)
}

func (s *instrumentedStore) ListByPlayer(ctx context.Context, user string, limit int) (gs []*gamestore.Game, err error) {
	defer func(start time.Time) { s.m.observeStore("list", start, err) }(time.Now())
	return s.next.ListByPlayer(ctx, user, limit)
}

func (s *instrumentedStore) Close() error { return s.next.Close() }
