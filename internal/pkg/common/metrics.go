package common

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the collectors served on /metrics.
	Registry = prometheus.NewRegistry()

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossarb",
			Subsystem: "proxy",
			Name:      "transitions_total",
			Help:      "State transitions applied, by side and resulting status.",
		},
		[]string{"side", "status"},
	)

	contributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossarb",
			Subsystem: "ledger",
			Name:      "contributions_total",
			Help:      "Fee contributions recorded, by party.",
		},
		[]string{"party"},
	)

	fullyPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossarb",
			Subsystem: "ledger",
			Name:      "fully_paid_total",
			Help:      "Round requirements completed, by party.",
		},
		[]string{"party"},
	)

	withdrawals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crossarb",
			Subsystem: "ledger",
			Name:      "withdrawals_total",
			Help:      "Withdrawals paying out a non-zero amount.",
		},
	)

	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossarb",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relay messages by direction, kind and outcome.",
		},
		[]string{"direction", "kind", "outcome"},
	)
)

//nolint:gochecknoinits
func init() {
	Registry.MustRegister(
		transitions,
		contributions,
		fullyPaid,
		withdrawals,
		relayMessages,
		prometheus.NewGoCollector(),
	)
}

func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveTransition(side, status string) {
	transitions.WithLabelValues(side, status).Inc()
}

func ObserveContribution(party string, completed bool) {
	contributions.WithLabelValues(party).Inc()

	if completed {
		fullyPaid.WithLabelValues(party).Inc()
	}
}

func ObserveWithdrawal() {
	withdrawals.Inc()
}

func ObserveRelay(direction, kind, outcome string) {
	relayMessages.WithLabelValues(direction, kind, outcome).Inc()
}
