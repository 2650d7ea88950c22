// Package metrics provides Prometheus metrics for the directory browser.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirbrowse_permission_checks_total",
			Help: "Total number of permission gate checks",
		},
		[]string{"mode", "result"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirbrowse_mutations_total",
			Help: "Total number of mutation outcomes per operation",
		},
		[]string{"operation", "status"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirbrowse_bytes_uploaded_total",
			Help: "Total bytes committed by uploads",
		},
	)

	listingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dirbrowse_listing_duration_seconds",
			Help:    "Time to enumerate and resolve a directory listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	registeredDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirbrowse_registered_directories",
			Help: "Number of directories in the registry",
		},
	)
)

// RecordPermissionCheck records the outcome of one gate check.
func RecordPermissionCheck(mode, result string) {
	permissionChecksTotal.WithLabelValues(mode, result).Inc()
}

// RecordMutation records one per-item mutation outcome.
func RecordMutation(operation, status string) {
	mutationsTotal.WithLabelValues(operation, status).Inc()
}

func AddBytesUploaded(n int64) {
	bytesUploaded.Add(float64(n))
}

func ObserveListing(d time.Duration) {
	listingDuration.Observe(d.Seconds())
}

func SetRegisteredDirectories(n int) {
	registeredDirectories.Set(float64(n))
}

// Handler serves the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
