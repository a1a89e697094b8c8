package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bids submitted, by admission result",
		},
		[]string{"result"},
	)

	auctionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_closed_total",
			Help: "Auctions moved to ENDED by the scheduler",
		},
		[]string{"winner"},
	)

	closeConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auction_close_conflicts_total",
			Help: "Close transitions skipped because the auction version moved",
		},
	)

	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_payments_total",
			Help: "Payment status transitions",
		},
		[]string{"status"},
	)

	gatewayAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_attempts_total",
			Help: "Authorization attempts against the payment gateway",
		},
		[]string{"result"},
	)

	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Confirmation events processed, by result",
		},
		[]string{"result"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_events_total",
			Help: "Outbound events, by event type and delivery result",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(bidsTotal)
	prometheus.MustRegister(auctionsClosedTotal)
	prometheus.MustRegister(closeConflictsTotal)
	prometheus.MustRegister(paymentsTotal)
	prometheus.MustRegister(gatewayAttemptsTotal)
	prometheus.MustRegister(reconciliationsTotal)
	prometheus.MustRegister(eventsTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, endpoint, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

func RecordBid(result string) {
	bidsTotal.WithLabelValues(result).Inc()
}

func RecordAuctionClosed(hasWinner bool) {
	label := "none"
	if hasWinner {
		label = "yes"
	}
	auctionsClosedTotal.WithLabelValues(label).Inc()
}

func RecordCloseConflict() {
	closeConflictsTotal.Inc()
}

func RecordPayment(status string) {
	paymentsTotal.WithLabelValues(status).Inc()
}

func RecordGatewayAttempt(result string) {
	gatewayAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordReconciliation(result string) {
	reconciliationsTotal.WithLabelValues(result).Inc()
}

func RecordEvent(eventType, result string) {
	eventsTotal.WithLabelValues(eventType, result).Inc()
}
