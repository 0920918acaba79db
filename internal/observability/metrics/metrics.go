package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow. All
// observe methods are nil-safe so wiring metrics stays optional in
// tests and tools.
type BookingMetrics struct {
	inboundTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	extractionTotal  *prometheus.CounterVec
	replyTotal       *prometheus.CounterVec
	reservationTotal *prometheus.CounterVec
	outboundTotal    *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound gateway webhooks",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of gateway webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "extraction_total",
			Help:      "Extraction passes by outcome",
		}, []string{"outcome"}),
		replyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "reply_total",
			Help:      "Engine replies by kind",
		}, []string{"kind"}),
		reservationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "reservation_total",
			Help:      "Reservation attempts by result",
		}, []string{"result"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atendeai",
			Subsystem: "booking",
			Name:      "outbound_total",
			Help:      "Outbound gateway sends by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.webhookLatency, m.extractionTotal, m.replyTotal, m.reservationTotal, m.outboundTotal)
	return m
}

func (m *BookingMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveWebhookLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(status).Observe(seconds)
}

func (m *BookingMetrics) ObserveExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReply(kind string) {
	if m == nil {
		return
	}
	m.replyTotal.WithLabelValues(kind).Inc()
}

func (m *BookingMetrics) ObserveReservation(result string) {
	if m == nil {
		return
	}
	m.reservationTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}
