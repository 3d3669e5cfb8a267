package order

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiffin_order_transitions_total",
		Help: "Committed order status transitions.",
	}, []string{"from", "to"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiffin_order_conditional_update_misses_total",
		Help: "Conditional order updates whose predicate no longer held.",
	})

	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiffin_order_pending_expired_total",
		Help: "Orders cancelled because payment never arrived.",
	})
)
