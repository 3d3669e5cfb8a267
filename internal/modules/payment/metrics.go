package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiffin_payment_verifications_total",
		Help: "Payment signature checks by kind and result.",
	}, []string{"kind", "result"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiffin_payment_webhooks_total",
		Help: "Processed gateway webhooks by event and outcome.",
	}, []string{"event", "outcome"})
)
