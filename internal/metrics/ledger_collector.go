package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerStats is a point-in-time view of the ledger.
type LedgerStats struct {
	Agents       int
	Entries      int
	TotalBalance int64
	TotalHold    int64
}

// LedgerStatFunc returns ledger statistics without importing the core.
type LedgerStatFunc func() LedgerStats

// ledgerCollector implements prometheus.Collector for live ledger gauges.
type ledgerCollector struct {
	statFunc LedgerStatFunc

	agentsDesc  *prometheus.Desc
	entriesDesc *prometheus.Desc
	balanceDesc *prometheus.Desc
	holdDesc    *prometheus.Desc
}

// NewLedgerCollector creates a collector that samples statFunc on scrape.
func NewLedgerCollector(statFunc LedgerStatFunc) prometheus.Collector {
	return &ledgerCollector{
		statFunc: statFunc,
		agentsDesc: prometheus.NewDesc(
			"agentpay_ledger_agents",
			"Number of registered agents.",
			nil, nil,
		),
		entriesDesc: prometheus.NewDesc(
			"agentpay_ledger_entries",
			"Number of entries in the journal.",
			nil, nil,
		),
		balanceDesc: prometheus.NewDesc(
			"agentpay_ledger_balance_minor_units",
			"Sum of available balances across all agents.",
			nil, nil,
		),
		holdDesc: prometheus.NewDesc(
			"agentpay_ledger_hold_minor_units",
			"Sum of held funds across all agents.",
			nil, nil,
		),
	}
}

// Describe sends the descriptors of each metric to the channel.
func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.agentsDesc
	ch <- c.entriesDesc
	ch <- c.balanceDesc
	ch <- c.holdDesc
}

// Collect samples the ledger and sends the gauges.
func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.agentsDesc, prometheus.GaugeValue, float64(s.Agents))
	ch <- prometheus.MustNewConstMetric(c.entriesDesc, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.balanceDesc, prometheus.GaugeValue, float64(s.TotalBalance))
	ch <- prometheus.MustNewConstMetric(c.holdDesc, prometheus.GaugeValue, float64(s.TotalHold))
}
