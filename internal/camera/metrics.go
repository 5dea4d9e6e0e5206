package camera

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deviceState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "state",
		Help:      "Current device connection state (1 for the active state)",
	}, []string{"state"})

	framesAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "frames_acquired_total",
		Help:      "Frames published to the frame slot",
	})

	restartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "restarts_total",
		Help:      "Device pipeline restarts by cause",
	}, []string{"cause"})
)

func recordStateChange(old, new State) {
	deviceState.WithLabelValues(string(old)).Set(0)
	deviceState.WithLabelValues(string(new)).Set(1)
}
