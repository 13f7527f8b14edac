package fulfillment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outcomes_total",
		Help: "Fulfillment outcomes by terminal status and action",
	}, []string{"status", "action"})

	reportAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_report_attempts_total",
		Help: "Status report attempts by result",
	}, []string{"result"})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_duplicates_skipped_total",
		Help: "Sale messages skipped because the sale was already fulfilled",
	})
)
