package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsCreatedTotal counts upload sessions by creation outcome
	// (created, resumed, already_uploaded, hash_conflict, invalid)
	UploadsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_uploads_created_total",
			Help: "Total number of upload session creation requests",
		},
		[]string{"outcome"},
	)

	// ChunksReceivedTotal counts accepted chunk PUTs
	ChunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airlift_chunks_received_total",
			Help: "Total number of file chunks received",
		},
	)

	// ChunksDuplicateTotal counts idempotent re-sends of already-received chunks
	ChunksDuplicateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airlift_chunks_duplicate_total",
			Help: "Total number of re-sent chunks that were already received",
		},
	)

	// AssembliesTotal counts assembly attempts by result (ok, corrupt, error)
	AssembliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_assemblies_total",
			Help: "Total number of final file assemblies",
		},
		[]string{"result"},
	)

	// UploadsDeletedTotal counts upload deletions
	UploadsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airlift_uploads_deleted_total",
			Help: "Total number of uploads deleted",
		},
	)

	// DownloadsTotal counts archive downloads by status (success, failure)
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_downloads_total",
			Help: "Total number of archived file downloads",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ErrorsTotal counts application errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_errors_total",
			Help: "Total number of application errors",
		},
		[]string{"type"},
	)

	// StaleUploadsReapedTotal counts uploads removed by the cleanup worker
	StaleUploadsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airlift_stale_uploads_reaped_total",
			Help: "Total number of stale incomplete uploads reaped",
		},
	)
)

// Histogram metrics (distributions)
var (
	// HTTPRequestDuration tracks HTTP request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airlift_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// AssemblyDuration tracks how long final file assembly takes
	AssemblyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airlift_assembly_duration_seconds",
			Help:    "Final file assembly time in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		},
	)

	// UploadSizeBytes tracks distribution of assembled file sizes
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "airlift_upload_size_bytes",
			Help: "Distribution of assembled upload sizes in bytes",
			Buckets: []float64{
				102400,      // 100 KB
				1048576,     // 1 MB
				10485760,    // 10 MB
				104857600,   // 100 MB
				1073741824,  // 1 GB
				10737418240, // 10 GB
			},
		},
	)
)

// Status endpoint metrics
var (
	// ServiceStatus reports per-service health as a gauge
	// (0=error, 1=warning, 2=ok)
	ServiceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airlift_service_status",
			Help: "Per-service status (0=error, 1=warning, 2=ok)",
		},
		[]string{"service"},
	)

	// StatusChecksTotal counts status probe calls by service and result
	StatusChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airlift_status_checks_total",
			Help: "Total number of status checks performed",
		},
		[]string{"service", "status"},
	)
)
