package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SegmentsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_segments_closed_total",
		Help: "Segments finalized, by camera and resulting state.",
	}, []string{"camera", "state"})

	SegmentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvr_segments_deleted_total",
		Help: "Segments removed by the retention manager.",
	})

	BytesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvr_retention_bytes_reclaimed_total",
		Help: "Bytes reclaimed by retention deletions.",
	})

	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_ingest_failures_total",
		Help: "Transient ingestion failures, by camera.",
	}, []string{"camera"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_active_sessions",
		Help: "Number of running camera sessions.",
	})

	StorageExhausted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvr_storage_exhausted",
		Help: "1 while the free-space floor cannot be satisfied.",
	})

	CameraHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_camera_health",
		Help: "Camera health state (0 healthy, 1 degraded, 2 offline).",
	}, []string{"camera"})
)
