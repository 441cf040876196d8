package order

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_orders_created_total",
			Help: "Orders created, by payment method",
		},
		[]string{"payment_method"},
	)

	paymentVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_payment_verifications_total",
			Help: "Payment verification attempts, by outcome",
		},
		[]string{"outcome"},
	)
)
