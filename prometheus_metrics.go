package upocr

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	inFlightGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ocr_client_in_flight_requests",
		Help: "Number of requests currently waiting on the OCR backend.",
	}, []string{"client"})

	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_client_requests_total",
			Help: "Requests by client variant and outcome.",
		},
		[]string{"client", "outcome"},
	)

	// duration covers the whole pipeline, file read and backend round trip included.
	duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_client_request_duration_seconds",
			Help:    "A histogram of request latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"client"},
	)

	confidenceHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_client_confidence",
			Help:    "Document confidence reported by the backend.",
			Buckets: []float64{.5, .7, .8, .9, .95, .98, 1},
		},
		[]string{"client"},
	)

	payloadSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocr_client_payload_size_bytes",
			Help:    "A histogram of uploaded image sizes.",
			Buckets: []float64{1500, 100000, 1000000, 5000000, 10000000, 25000000},
		},
		[]string{"client"},
	)
)

// RegisterMetrics registers the client collectors. Metrics are recorded whether or
// not they are registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{inFlightGauge, requestCounter, duration, confidenceHistogram, payloadSize} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
