// Package metrics exposes Prometheus counters for session and login decisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loginguard_sessions_created_total",
		Help: "Sessions created.",
	})

	sessionsRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loginguard_sessions_revoked_total",
		Help: "Sessions revoked, by reason.",
	}, []string{"reason"})

	loginDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loginguard_login_decisions_total",
		Help: "Login decisions, by outcome.",
	}, []string{"decision"})

	riskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loginguard_risk_score",
		Help:    "Distribution of login risk scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
)

func SessionCreated() {
	sessionsCreated.Inc()
}

func SessionRevoked(reason string) {
	sessionsRevoked.WithLabelValues(reason).Inc()
}

func LoginDecision(decision string) {
	loginDecisions.WithLabelValues(decision).Inc()
}

func ObserveRiskScore(score int) {
	riskScore.Observe(float64(score))
}
