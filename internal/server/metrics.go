package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	bookingsTotal *prometheus.CounterVec
	payAttempts   *prometheus.CounterVec
	openFlows     prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookrails_bookings_total",
		Help: "Completed bookings by outcome",
	}, []string{"outcome"})

	pays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookrails_pay_attempts_total",
		Help: "Pay invocations by result",
	}, []string{"result"})

	open := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookrails_open_flows",
		Help: "Number of open booking flows",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(bookings, pays, open)

	return &metricsRegistry{
		registry:      r,
		bookingsTotal: bookings,
		payAttempts:   pays,
		openFlows:     open,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incBooking(outcome string) {
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incPay(result string) {
	m.payAttempts.WithLabelValues(result).Inc()
}

func (m *metricsRegistry) setOpenFlows(n int) {
	m.openFlows.Set(float64(n))
}
