// Package prometheuscollector exposes the handler's metrics in the
// Prometheus exposition format:
//
//	handler, err := handler.NewHandler(…)
//	collector := prometheuscollector.New(handler.Metrics)
//	prometheus.MustRegister(collector)
package prometheuscollector

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bunnylabs/bunny-s3-proxy/pkg/handler"
)

var (
	requestsTotalDesc = prometheus.NewDesc(
		"bunny_s3_requests_total",
		"Total number of S3 requests served per method.",
		[]string{"method"}, nil)
	errorsTotalDesc = prometheus.NewDesc(
		"bunny_s3_errors_total",
		"Total number of S3 error responses per code and status.",
		[]string{"status", "code"}, nil)
	bytesReceivedDesc = prometheus.NewDesc(
		"bunny_s3_bytes_received",
		"Number of bytes received in buffered request bodies.",
		nil, nil)
	bytesSentDesc = prometheus.NewDesc(
		"bunny_s3_bytes_sent",
		"Number of bytes sent in response documents.",
		nil, nil)
	uploadsCreatedDesc = prometheus.NewDesc(
		"bunny_s3_multipart_uploads_created",
		"Number of initiated multipart uploads.",
		nil, nil)
	uploadsCompletedDesc = prometheus.NewDesc(
		"bunny_s3_multipart_uploads_completed",
		"Number of completed multipart uploads.",
		nil, nil)
	uploadsAbortedDesc = prometheus.NewDesc(
		"bunny_s3_multipart_uploads_aborted",
		"Number of aborted multipart uploads.",
		nil, nil)
)

type Collector struct {
	metrics handler.Metrics
}

// New creates a new collector which reads from the provided Metrics struct.
func New(metrics handler.Metrics) Collector {
	return Collector{
		metrics: metrics,
	}
}

func (Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- requestsTotalDesc
	descs <- errorsTotalDesc
	descs <- bytesReceivedDesc
	descs <- bytesSentDesc
	descs <- uploadsCreatedDesc
	descs <- uploadsCompletedDesc
	descs <- uploadsAbortedDesc
}

func (c Collector) Collect(metrics chan<- prometheus.Metric) {
	for method, valuePtr := range c.metrics.RequestsTotal {
		metrics <- prometheus.MustNewConstMetric(
			requestsTotalDesc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(valuePtr)),
			method,
		)
	}

	for s3Err, valuePtr := range c.metrics.ErrorsTotal.Load() {
		metrics <- prometheus.MustNewConstMetric(
			errorsTotalDesc,
			prometheus.CounterValue,
			float64(atomic.LoadUint64(valuePtr)),
			strconv.Itoa(s3Err.StatusCode),
			s3Err.Code,
		)
	}

	metrics <- prometheus.MustNewConstMetric(
		bytesReceivedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.BytesReceived)),
	)

	metrics <- prometheus.MustNewConstMetric(
		bytesSentDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.BytesSent)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsCreatedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsCreated)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsCompletedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsCompleted)),
	)

	metrics <- prometheus.MustNewConstMetric(
		uploadsAbortedDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(c.metrics.UploadsAborted)),
	)
}
