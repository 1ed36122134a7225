package cartstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Committed cart mutations by operation",
		},
		[]string{"op"},
	)

	persistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_cart_persist_failures_total",
			Help: "Cart snapshot writes that failed and were absorbed",
		},
	)

	hydrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_hydrations_total",
			Help: "Cart store hydrations by result (hit, miss, read_error, corrupt)",
		},
		[]string{"result"},
	)

	openStores = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_cart_open_stores",
			Help: "Cart stores currently held in memory",
		},
	)
)
