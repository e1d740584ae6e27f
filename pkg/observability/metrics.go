package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"avaneesh/seriallink-go/pkg/link"
)

var (
	registerOnce sync.Once

	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "frames_total",
			Help:      "I frames by direction and outcome.",
		},
		[]string{"role", "kind"},
	)
	linkControl = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "control_frames_total",
			Help:      "Supervisory and unnumbered frames by direction.",
		},
		[]string{"role", "direction"},
	)
	linkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "errors_total",
			Help:      "Frame errors and timer expiries.",
		},
		[]string{"role", "kind"},
	)
	linkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Bytes written to and read from the line.",
		},
		[]string{"role", "direction"},
	)
	linkSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "sessions_total",
			Help:      "Link establishment and release attempts.",
		},
		[]string{"role", "event", "success"},
	)
	linkSessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seriallink",
			Subsystem: "link",
			Name:      "session_duration_seconds",
			Help:      "Time between link establishment and release.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"role"},
	)
	fileTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "app",
			Name:      "file_transfers_total",
			Help:      "Completed and failed file transfers.",
		},
		[]string{"role", "success"},
	)
	fileBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seriallink",
			Subsystem: "app",
			Name:      "file_bytes_total",
			Help:      "File content bytes moved by successful transfers.",
		},
		[]string{"role"},
	)
	fileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seriallink",
			Subsystem: "app",
			Name:      "file_transfer_duration_seconds",
			Help:      "File transfer duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "success"},
	)
)

// RegisterMetrics registers every collector with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkFrames, linkControl, linkErrors, linkBytes,
			linkSessions, linkSessionDuration,
			fileTransfers, fileBytes, fileDuration,
		)
	})
}

// RecordStatistics adds the counters of one finished connection
func RecordStatistics(role link.Role, snap link.StatisticsSnapshot) {
	RegisterMetrics()
	r := role.String()

	linkFrames.WithLabelValues(r, "sent").Add(float64(snap.FramesSent))
	linkFrames.WithLabelValues(r, "retransmitted").Add(float64(snap.Retransmissions))
	linkFrames.WithLabelValues(r, "received").Add(float64(snap.FramesReceived))
	linkFrames.WithLabelValues(r, "duplicate").Add(float64(snap.Duplicates))

	linkControl.WithLabelValues(r, "tx").Add(float64(snap.ControlSent))
	linkControl.WithLabelValues(r, "rx").Add(float64(snap.ControlReceived))

	linkErrors.WithLabelValues(r, "header").Add(float64(snap.HeaderErrors))
	linkErrors.WithLabelValues(r, "payload").Add(float64(snap.PayloadErrors))
	linkErrors.WithLabelValues(r, "timeout").Add(float64(snap.Timeouts))
	linkErrors.WithLabelValues(r, "rej_sent").Add(float64(snap.RejectsSent))
	linkErrors.WithLabelValues(r, "rej_received").Add(float64(snap.RejectsReceived))

	linkBytes.WithLabelValues(r, "tx").Add(float64(snap.BytesSent))
	linkBytes.WithLabelValues(r, "rx").Add(float64(snap.BytesReceived))

	if snap.Uptime > 0 {
		linkSessionDuration.WithLabelValues(r).Observe(snap.Uptime.Seconds())
	}
}

// RecordOpen counts one establishment attempt
func RecordOpen(role link.Role, success bool) {
	RegisterMetrics()
	linkSessions.WithLabelValues(role.String(), "open", strconv.FormatBool(success)).Inc()
}

// RecordClose counts one release attempt
func RecordClose(role link.Role, success bool) {
	RegisterMetrics()
	linkSessions.WithLabelValues(role.String(), "close", strconv.FormatBool(success)).Inc()
}

// RecordFileTransfer counts a file transfer and, on success, its size
func RecordFileTransfer(role link.Role, size int64, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	fileTransfers.WithLabelValues(role.String(), successLabel).Inc()
	fileDuration.WithLabelValues(role.String(), successLabel).Observe(duration.Seconds())
	if success {
		fileBytes.WithLabelValues(role.String()).Add(float64(size))
	}
}
