package metrics

import (
	"strconv"
	"time"

	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the AgentPay service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Core metrics.
	PaymentsTotal          *prometheus.CounterVec
	PaymentAmountTotal     prometheus.Counter
	EscrowTransitionsTotal *prometheus.CounterVec
	LedgerEntriesTotal     *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Audit collector metrics.
	AuditBufferSize    prometheus.Gauge
	AuditFlushesTotal  *prometheus.CounterVec
	AuditFlushDuration prometheus.Histogram
	AuditEntriesTotal  prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_payments_total",
			Help: "Payment intents by the status they reached.",
		}, []string{"status"}),

		PaymentAmountTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_payment_volume_minor_units_total",
			Help: "Sum of amounts moved by ledger payment entries, in minor units.",
		}),

		EscrowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_escrow_transitions_total",
			Help: "Escrow operations by transition and outcome.",
		}, []string{"transition", "outcome"}),

		LedgerEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_ledger_entries_total",
			Help: "Ledger entries appended, by entry type.",
		}, []string{"entry_type"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		AuditBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpay_audit_buffer_size",
			Help: "Current number of buffered audit entries.",
		}),

		AuditFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentpay_audit_flushes_total",
			Help: "Total number of audit collector flushes.",
		}, []string{"status"}),

		AuditFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentpay_audit_flush_duration_seconds",
			Help:    "Duration of audit flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		AuditEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentpay_audit_entries_total",
			Help: "Total number of audit entries written.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentpay_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PaymentsTotal,
		m.PaymentAmountTotal,
		m.EscrowTransitionsTotal,
		m.LedgerEntriesTotal,
		m.RateLimitRejectionsTotal,
		m.AuditBufferSize,
		m.AuditFlushesTotal,
		m.AuditFlushDuration,
		m.AuditEntriesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterLedgerCollector registers the live ledger gauges.
func (m *Metrics) RegisterLedgerCollector(statFunc LedgerStatFunc) {
	m.registry.MustRegister(NewLedgerCollector(statFunc))
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, pattern string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(elapsed.Seconds())
}

// RecordPayment counts an intent reaching the given status.
func (m *Metrics) RecordPayment(status string) {
	m.PaymentsTotal.WithLabelValues(status).Inc()
}

// RecordEscrow counts an escrow operation.
func (m *Metrics) RecordEscrow(transition, outcome string) {
	m.EscrowTransitionsTotal.WithLabelValues(transition, outcome).Inc()
}

// Record counts an appended ledger entry. Metrics is a ledger.EntryRecorder.
func (m *Metrics) Record(e ledger.Entry) {
	m.LedgerEntriesTotal.WithLabelValues(string(e.EntryType)).Inc()
	if e.EntryType == ledger.EntryPayment && e.IsCredit() {
		m.PaymentAmountTotal.Add(float64(e.DeltaAmount))
	}
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// SetAuditBuffer reports the audit collector's buffer length.
func (m *Metrics) SetAuditBuffer(n int) {
	m.AuditBufferSize.Set(float64(n))
}

// ObserveAuditFlush records one audit flush.
func (m *Metrics) ObserveAuditFlush(count int, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.AuditEntriesTotal.Add(float64(count))
	}
	m.AuditFlushesTotal.WithLabelValues(status).Inc()
	m.AuditFlushDuration.Observe(elapsed.Seconds())
}
