// Package metrics exposes Prometheus instrumentation for identity resolution,
// passive enrollment and the storage worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IdentificationsTotal counts resolved person detections by method (face, reid, gait, none).
	IdentificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchpost_identifications_total",
			Help: "Person detections resolved, by identification method",
		},
		[]string{"method"},
	)

	// BackendFailuresTotal counts failed or rejected calls to recognition backends.
	BackendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchpost_backend_failures_total",
			Help: "Recognition backend calls that errored, panicked or hit an open breaker",
		},
		[]string{"backend"},
	)

	// EnrollmentSamplesTotal counts passively captured samples by modality.
	EnrollmentSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchpost_enrollment_samples_total",
			Help: "Passive enrollment samples captured, by modality",
		},
		[]string{"modality"},
	)

	// StorageTasksTotal counts storage tasks by kind and outcome (ok, failed, dropped).
	StorageTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchpost_storage_tasks_total",
			Help: "Storage worker tasks, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// StorageQueueDepth is the number of tasks waiting in the storage queue.
	StorageQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchpost_storage_queue_depth",
			Help: "Tasks waiting in the storage worker queue",
		},
	)

	// GaitBuffersActive is the number of live gait sequence buffers.
	GaitBuffersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchpost_gait_buffers_active",
			Help: "Live gait silhouette buffers, by purpose (recognition, enrollment)",
		},
		[]string{"purpose"},
	)
)

// RecordIdentification increments the identification counter for method.
func RecordIdentification(method string) {
	if method == "" {
		method = "none"
	}
	IdentificationsTotal.WithLabelValues(method).Inc()
}

// RecordBackendFailure increments the failure counter for backend.
func RecordBackendFailure(backend string) {
	BackendFailuresTotal.WithLabelValues(backend).Inc()
}

// RecordEnrollmentSample increments the sample counter for modality.
func RecordEnrollmentSample(modality string) {
	EnrollmentSamplesTotal.WithLabelValues(modality).Inc()
}

// RecordStorageTask increments the task counter for kind and outcome.
func RecordStorageTask(kind, outcome string) {
	StorageTasksTotal.WithLabelValues(kind, outcome).Inc()
}
