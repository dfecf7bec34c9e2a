package metrics

import "github.com/prometheus/client_golang/prometheus"

// BotMetrics exposes counters/histograms for the lead-qualification bot.
type BotMetrics struct {
	messagesTotal     *prometheus.CounterVec
	responderLatency  *prometheus.HistogramVec
	statusTransitions *prometheus.CounterVec
	sessionsEvicted   prometheus.Counter
	liveSessions      prometheus.Gauge
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inmobot",
			Subsystem: "bot",
			Name:      "messages_total",
			Help:      "Inbound bot messages by reply source",
		}, []string{"source"}),
		responderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inmobot",
			Subsystem: "bot",
			Name:      "responder_latency_seconds",
			Help:      "Latency of external responder calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inmobot",
			Subsystem: "bot",
			Name:      "lead_status_transitions_total",
			Help:      "Lead qualification status changes",
		}, []string{"from", "to"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "inmobot",
			Subsystem: "sessions",
			Name:      "evicted_total",
			Help:      "Sessions removed by the idle sweep",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inmobot",
			Subsystem: "sessions",
			Name:      "live",
			Help:      "Sessions remaining after the last sweep",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.responderLatency, m.statusTransitions, m.sessionsEvicted, m.liveSessions)
	return m
}

// ObserveMessage counts one handled message; source is "responder" or "fallback".
func (m *BotMetrics) ObserveMessage(source string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(source).Inc()
}

func (m *BotMetrics) ObserveResponderLatency(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.responderLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BotMetrics) ObserveStatusTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// ObserveSweep records the result of one eviction pass.
func (m *BotMetrics) ObserveSweep(evicted, remaining int) {
	if m == nil {
		return
	}
	m.sessionsEvicted.Add(float64(evicted))
	m.liveSessions.Set(float64(remaining))
}
