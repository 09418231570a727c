package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP instruments the admin and webhook API.
type HTTP struct {
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		return &HTTP{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ispbox_http_request_duration_seconds",
		Help:    "API latency by chi route pattern and status class.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ispbox_http_requests_in_flight",
		Help: "Requests currently being served.",
	})
	reg.MustRegister(duration, inflight)
	return &HTTP{duration: duration, inflight: inflight}
}

// Begin marks a request in flight and returns the matching done func.
func (h *HTTP) Begin() func() {
	if h == nil || h.inflight == nil {
		return func() {}
	}
	h.inflight.Inc()
	return h.inflight.Dec
}

func (h *HTTP) Observe(method, route string, status int, elapsed time.Duration) {
	if h == nil || h.duration == nil {
		return
	}
	h.duration.WithLabelValues(method, normalizeLabel(route), statusClass(status)).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
