package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry, which holds the HTTP collectors and
// the cache and pipeline collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ProvideMetrics is the fx provider for the /metrics handler.
func ProvideMetrics() http.Handler { return Handler() }
