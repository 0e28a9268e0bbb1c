// Package metrics exposes bot counters over HTTP for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mangrovedao/mangrove-archive-sub000/internal/market"
)

const namespace = "mangrove"

// Metrics is a private registry so tests and several bots in one process
// do not collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	BookEvents *prometheus.CounterVec
	Offers     *prometheus.GaugeVec
	Snipes     *prometheus.CounterVec
	Gasprice   prometheus.Gauge
	GasUpdates prometheus.Counter
	Errors     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		BookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_events_total",
			Help:      "Book notifications applied to the local replica.",
		}, []string{"market", "side", "type"}),
		Offers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_offers",
			Help:      "Offers held in the local replica.",
		}, []string{"market", "side"}),
		Snipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snipes_total",
			Help:      "Snipes attempted by the cleaner, by outcome.",
		}, []string{"market", "side", "result"}),
		Gasprice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_gasprice_gwei",
			Help:      "Last gas price pushed to the oracle.",
		}),
		GasUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_updates_total",
			Help:      "Gas price updates sent to the oracle.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by origin.",
		}, []string{"origin"}),
	}
	m.reg.MustRegister(
		m.BookEvents, m.Offers, m.Snipes, m.Gasprice, m.GasUpdates, m.Errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Book is the read side of a live market replica.
type Book interface {
	String() string
	Asks() []market.Offer
	Bids() []market.Offer
}

// ObserveBook counts ev and refreshes the replica size of its side.
func (m *Metrics) ObserveBook(mkt Book, ev market.BookEvent) {
	if m == nil {
		return
	}
	m.BookEvents.WithLabelValues(mkt.String(), ev.Side.String(), string(ev.Type)).Inc()
	m.ObserveSize(mkt)
}

// ObserveSize sets the offer gauges from the live replica.
func (m *Metrics) ObserveSize(mkt Book) {
	if m == nil {
		return
	}
	m.Offers.WithLabelValues(mkt.String(), market.Asks.String()).Set(float64(len(mkt.Asks())))
	m.Offers.WithLabelValues(mkt.String(), market.Bids.String()).Set(float64(len(mkt.Bids())))
}

func (m *Metrics) Error(origin string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(origin).Inc()
}

// Router serves /metrics and /healthz; bots mount more routes on it.
func (m *Metrics) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// ListenAndServe serves h on addr until ctx is done. A blank addr disables
// the server and returns nil at once.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("http listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
