package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_sessions",
			Help: "Active websocket room sessions",
		},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rooms_active",
			Help: "Rooms currently held in the store",
		},
	)

	framesRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frames_relayed_total",
			Help: "Frames fanned out to room members, by frame type",
		},
		[]string{"type"},
	)
)

// RecordHTTPRequest records counters and latency for one handled request.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, endpoint, s).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, s).Observe(duration.Seconds())
}

func SessionOpened() { wsActiveSessions.Inc() }
func SessionClosed() { wsActiveSessions.Dec() }

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

func FrameRelayed(frameType string) {
	framesRelayedTotal.WithLabelValues(frameType).Inc()
}
