package libvisca

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for cameras and listeners.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesSent      *prometheus.CounterVec
	retries         *prometheus.CounterVec
	replies         *prometheus.CounterVec
	malformedFrames prometheus.Counter
	sequenceNumber  *prometheus.GaugeVec
	sendDuration    *prometheus.HistogramVec
}

// NewMetrics registers the VISCA metrics with the given registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visca",
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent to cameras",
		}, []string{"payload_type"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visca",
			Name:      "retries_total",
			Help:      "Total number of frames sent again",
		}, []string{"reason"}),

		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visca",
			Name:      "replies_total",
			Help:      "Total number of replies received by outcome",
		}, []string{"outcome"}),

		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "visca",
			Name:      "malformed_frames_total",
			Help:      "Total number of datagrams that could not be decoded",
		}),

		sequenceNumber: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "visca",
			Name:      "sequence_number",
			Help:      "Current sequence number per camera",
		}, []string{"camera"}),

		sendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visca",
			Name:      "send_duration_seconds",
			Help:      "Time from first transmission until the command was acknowledged",
			Buckets:   []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2, 5},
		}, []string{"command", "result"}),
	}
}

func (m *Metrics) frameSent(payloadType PayloadType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(payloadType.String()).Inc()
}

func (m *Metrics) retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) reply(outcome ReplyOutcome) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

func (m *Metrics) sequence(camera string, sequenceNumber uint32) {
	if m == nil {
		return
	}
	m.sequenceNumber.WithLabelValues(camera).Set(float64(sequenceNumber))
}

func (m *Metrics) sent(command string, result string, started time.Time) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(command, result).Observe(time.Since(started).Seconds())
}
