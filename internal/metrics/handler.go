package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP      httpSummary    `json:"http"`
	Payments  paymentSummary `json:"payments"`
	Escrows   escrowSummary  `json:"escrows"`
	Ledger    ledgerSummary  `json:"ledger"`
	RateLimit rateLimitInfo  `json:"rateLimit"`
	Audit     auditInfo      `json:"audit"`
	Server    serverInfo     `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type paymentSummary struct {
	Total    float64            `json:"total"`
	ByStatus map[string]float64 `json:"byStatus"`
	Volume   float64            `json:"volume"`
}

type escrowSummary struct {
	Created   float64 `json:"created"`
	Released  float64 `json:"released"`
	Cancelled float64 `json:"cancelled"`
	Failed    float64 `json:"failed"`
}

type ledgerSummary struct {
	Agents        float64            `json:"agents"`
	Entries       float64            `json:"entries"`
	TotalBalance  float64            `json:"totalBalance"`
	TotalHold     float64            `json:"totalHold"`
	EntriesByType map[string]float64 `json:"entriesByType"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type auditInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Entries      float64 `json:"entries"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summary()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summary gathers the registry and condenses it.
func (m *Metrics) Summary() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	escrows := fam["agentpay_escrow_transitions_total"]
	start := gaugeValue(fam["agentpay_server_start_time_seconds"])

	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["agentpay_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["agentpay_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["agentpay_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["agentpay_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["agentpay_http_request_duration_seconds"], 0.99),
		},
		Payments: paymentSummary{
			Total:    sumCounter(fam["agentpay_payments_total"]),
			ByStatus: countersByLabel(fam["agentpay_payments_total"], "status"),
			Volume:   counterValue(fam["agentpay_payment_volume_minor_units_total"]),
		},
		Escrows: escrowSummary{
			Created:   counterWithLabels(escrows, map[string]string{"transition": "create", "outcome": "success"}),
			Released:  counterWithLabels(escrows, map[string]string{"transition": "release", "outcome": "success"}),
			Cancelled: counterWithLabels(escrows, map[string]string{"transition": "cancel", "outcome": "success"}),
			Failed:    sumCounter(escrows) - sumCounterWithLabel(escrows, "outcome", "success"),
		},
		Ledger: ledgerSummary{
			Agents:        gaugeValue(fam["agentpay_ledger_agents"]),
			Entries:       gaugeValue(fam["agentpay_ledger_entries"]),
			TotalBalance:  gaugeValue(fam["agentpay_ledger_balance_minor_units"]),
			TotalHold:     gaugeValue(fam["agentpay_ledger_hold_minor_units"]),
			EntriesByType: countersByLabel(fam["agentpay_ledger_entries_total"], "entry_type"),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["agentpay_ratelimit_rejections_total"]),
		},
		Audit: auditInfo{
			BufferSize:   gaugeValue(fam["agentpay_audit_buffer_size"]),
			TotalFlushes: sumCounter(fam["agentpay_audit_flushes_total"]),
			FlushErrors:  counterWithLabel(fam["agentpay_audit_flushes_total"], "status", "error"),
			Entries:      counterValue(fam["agentpay_audit_entries_total"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			// Linear interpolation within this bucket.
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// If we didn't find it, return the last finite bucket upper bound.
	if len(buckets) > 0 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !math.IsInf(buckets[i].upperBound, 1) {
				return buckets[i].upperBound
			}
		}
	}
	return 0
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	return counterWithLabels(f, map[string]string{labelName: labelValue})
}

// counterWithLabels sums the counters whose labels include every pair given.
func counterWithLabels(f *dto.MetricFamily, want map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		match := true
		for name, value := range want {
			if !hasLabel(m, name, value) {
				match = false
				break
			}
		}
		if match {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// countersByLabel groups counter values by one label's value.
func countersByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := map[string]float64{}
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName {
				out[lp.GetValue()] += m.GetCounter().GetValue()
			}
		}
	}
	return out
}
