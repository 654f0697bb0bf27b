package cli

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/handler"
	"github.com/bunnylabs/bunny-s3-proxy/pkg/prometheuscollector"
)

var MetricsOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "bunny_s3_connections_open",
	Help: "Current number of open connections.",
})

// SetupMetrics serves the Prometheus endpoint on its own address, away from
// the S3 surface where /metrics would collide with the key namespace.
func SetupMetrics(s3Handler *handler.Handler) {
	prometheus.MustRegister(MetricsOpenConnections)
	prometheus.MustRegister(prometheuscollector.New(s3Handler.Metrics))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("MetricsListenerStarted", "addr", Flags.MetricsAddr, "path", "/metrics")
		if err := http.ListenAndServe(Flags.MetricsAddr, mux); err != nil {
			logger.Error("MetricsListenerFailed", "error", err)
		}
	}()
}
