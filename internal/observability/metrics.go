package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "frames_processed_total",
		Help:      "Total number of camera frames processed",
	})

	FacesEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "faces_embedded_total",
		Help:      "Total number of face embeddings returned by the recognizer",
	})

	MembersUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "members_upserted_total",
		Help:      "Member upserts by result",
	}, []string{"result"})

	CooldownSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "cooldown_skipped_total",
		Help:      "Embeddings skipped because their member was seen within the cooldown",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "store_errors_total",
		Help:      "Store operation failures",
	}, []string{"op"})

	RecognizerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "recognizer_errors_total",
		Help:      "Frames skipped because the recognizer failed",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceads",
		Name:      "inference_duration_seconds",
		Help:      "Duration of recognition stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CameraRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "camera_restarts_total",
		Help:      "Number of times the camera source was reopened",
	})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceads",
		Name:      "notifications_published_total",
		Help:      "Visitor-seen notifications by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceads",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceads",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
