// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kijumbe_transactions_total",
		Help: "Wallet transactions processed, by type and final status.",
	}, []string{"type", "status"})

	ContributionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kijumbe_contributions_total",
		Help: "Completed rotation contributions recorded.",
	})

	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kijumbe_payouts_total",
		Help: "Completed rotation payouts processed.",
	})
)
