package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking and negotiation flows.
type SchedulingMetrics struct {
	operationsTotal  *prometheus.CounterVec
	calendarTotal    *prometheus.CounterVec
	calendarLatency  prometheus.Histogram
	proposalsExpired *prometheus.CounterVec
	outboxDelivered  *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casework",
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Scheduling operations by name and outcome",
		}, []string{"operation", "outcome"}),
		calendarTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casework",
			Subsystem: "calendar",
			Name:      "fetch_total",
			Help:      "External calendar busy-slot fetches by result",
		}, []string{"result"}),
		calendarLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "casework",
			Subsystem: "calendar",
			Name:      "fetch_latency_seconds",
			Help:      "Latency of external calendar busy-slot fetches",
			Buckets:   prometheus.DefBuckets,
		}),
		proposalsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casework",
			Subsystem: "scheduling",
			Name:      "proposals_expired_total",
			Help:      "Reschedule proposals moved to expired, by path",
		}, []string{"path"}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casework",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox deliveries by event type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.calendarTotal, m.calendarLatency, m.proposalsExpired, m.outboxDelivered)
	return m
}

// ObserveOperation counts one scheduling call. outcome is "ok" or an error kind.
func (m *SchedulingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveCalendarFetch(ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.calendarTotal.WithLabelValues(result).Inc()
	m.calendarLatency.Observe(seconds)
}

// ObserveProposalExpired counts expiries; path is "lazy" or "sweeper".
func (m *SchedulingMetrics) ObserveProposalExpired(path string) {
	if m == nil {
		return
	}
	m.proposalsExpired.WithLabelValues(path).Inc()
}

func (m *SchedulingMetrics) ObserveOutboxDelivery(eventType string, ok bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !ok {
		status = "failed"
	}
	m.outboxDelivered.WithLabelValues(eventType, status).Inc()
}
