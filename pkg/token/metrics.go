package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_token_validations_total",
		Help: "Credential validations by state found",
	}, []string{"state"})

	// result: success, failure, shared, memo
	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataaccess_token_refreshes_total",
		Help: "Token refresh outcomes",
	}, []string{"result"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataaccess_token_refresh_duration_seconds",
		Help:    "Duration of refresh calls to the authorization server",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataaccess_token_rejections_total",
		Help: "Credentials cleared because the upstream refused them",
	})
)
