// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "tokens_issued_total",
		Help:      "Sequential tokens minted.",
	})

	TokensFallback = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "tokens_fallback_total",
		Help:      "Degraded non-sequential tokens minted after retries ran out.",
	})

	TokenRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "token_retries_total",
		Help:      "Token inserts retried after a uniqueness violation.",
	})

	TokensMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "tokens_merged_total",
		Help:      "Checkouts merged into an existing token for the same user and day.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "token_transitions_total",
		Help:      "Token state transitions by target state.",
	}, []string{"state"})

	TokensSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "tokens_swept_total",
		Help:      "Expired unverified tokens deleted by the sweep.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "messmate",
		Name:      "notifications_total",
		Help:      "Push notifications attempted by type and outcome.",
	}, []string{"type", "outcome"})
)
