package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	WalletTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transactions_total",
		Help: "Wallet transactions by type, method and final status.",
	}, []string{"type", "method", "status"})

	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bets_placed_total",
		Help: "Bet placement attempts by result.",
	}, []string{"result"})

	MarketsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markets_resolved_total",
		Help: "Markets settled.",
	})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Outbound payment gateway latency.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"gateway", "operation", "outcome"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox relay publish attempts by topic and result.",
	}, []string{"topic", "result"})

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_backlog",
		Help: "Unpublished outbox events seen by the last relay pass.",
	})
)
