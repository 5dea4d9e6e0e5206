package webrtc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "active_sessions",
		Help:      "Number of currently bound streaming sessions (0 or 1)",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "sessions_total",
		Help:      "Total streaming sessions created",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "evictions_total",
		Help:      "Sessions evicted from the streaming slot",
	}, []string{"reason"})

	samplesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "samples_sent_total",
		Help:      "Video samples written to the outgoing track",
	})

	sampleBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "sample_bytes_total",
		Help:      "Bytes written to the outgoing track",
	})

	rtcpPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "rtcp_packets_total",
		Help:      "Total RTCP packets received from peers",
	})

	nacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "nacks_received_total",
		Help:      "Total NACK requests received (indicates packet loss)",
	})

	plisReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "plis_received_total",
		Help:      "Total PLI (Picture Loss Indication) requests received",
	})

	firsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "webrtc",
		Name:      "firs_received_total",
		Help:      "Total FIR (Full Intra Request) requests received",
	})
)

func recordSessionBound() {
	sessionsTotal.Inc()
	activeSessions.Set(1)
}

func recordSlotFree() {
	activeSessions.Set(0)
}

func recordEviction(reason string) {
	evictionsTotal.WithLabelValues(reason).Inc()
}

func recordSample(bytes int) {
	samplesSent.Inc()
	sampleBytes.Add(float64(bytes))
}
