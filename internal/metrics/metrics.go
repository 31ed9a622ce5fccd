package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_polls_total",
			Help: "Marketplace polls by result",
		},
		[]string{"result"}, // empty|listings|throttled|error
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_poll_duration_seconds",
			Help:    "Full poll round-trip duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"}, // won|lost|error
	)

	BackoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_backoff_seconds",
			Help: "Delay chosen before the next poll",
		},
	)
)

func init() {
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(BackoffSeconds)
}

// Register mounts the metrics and health endpoints. The listener is opt-in;
// collectors work regardless.
func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
