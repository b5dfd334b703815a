// Package metrics holds the Prometheus collectors shared by the ledgers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger mutations processed, labeled by ledger, operation and outcome kind",
	}, []string{"ledger", "operation", "outcome"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_compensations_total",
		Help: "Compensating actions run by coordinators, labeled by saga step and result",
	}, []string{"step", "result"})
)

// Observe counts one ledger operation. A nil err counts as "ok".
func Observe(ledger, operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = domain.Kind(err)
	}
	operationsTotal.WithLabelValues(ledger, operation, outcome).Inc()
}

// Compensated counts one compensating action.
func Compensated(step string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	compensationsTotal.WithLabelValues(step, result).Inc()
}
