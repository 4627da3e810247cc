package credential

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeOps counts credential store operations by backend, operation and
// result ("hit", "miss", "ok", "error").
var storeOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dataaccess_credential_store_ops_total",
		Help: "Total number of credential store operations",
	},
	[]string{"store", "operation", "result"},
)
