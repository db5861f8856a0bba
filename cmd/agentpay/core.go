package main

import (
	"fmt"
	"log/slog"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/alecgard/agentpay/internal/config"
	"github.com/alecgard/agentpay/internal/escrow"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/alecgard/agentpay/internal/metrics"
	"github.com/alecgard/agentpay/internal/payment"
	"github.com/alecgard/agentpay/internal/rail"
)

// core is one service instance's worth of state. Nothing here is global.
type core struct {
	agents   *agent.Store
	journal  *ledger.Journal
	payments *payment.Orchestrator
	escrows  *escrow.Coordinator
	rail     *rail.InternalCredits
}

// newCore wires the components together. m may be nil.
func newCore(cfg *config.Config, m *metrics.Metrics) *core {
	agents := agent.NewStore()
	journal := ledger.New(agents)
	payments := payment.NewOrchestrator(journal)
	escrows := escrow.NewCoordinator(journal)

	if m != nil {
		payments.SetMetrics(m)
		escrows.SetMetrics(m)
		m.RegisterLedgerCollector(func() metrics.LedgerStats {
			stats := metrics.LedgerStats{Entries: journal.EntryCount()}
			for _, a := range agents.List() {
				stats.Agents++
				stats.TotalBalance += a.Wallet.Balance
				stats.TotalHold += a.Wallet.Hold
			}
			return stats
		})
	}

	return &core{
		agents:   agents,
		journal:  journal,
		payments: payments,
		escrows:  escrows,
		rail:     rail.NewInternalCredits(journal, escrows, cfg.Ledger.Currency),
	}
}

var demoAgents = []struct {
	id   string
	name string
}{
	{"research-agent", "Research Agent"},
	{"summarizer-agent", "Summarizer Agent"},
	{"search-agent", "Search Agent"},
}

// seed registers the demo agents and funds each with amount. Agents that
// already exist are left alone.
func (c *core) seed(amount int64) error {
	for _, d := range demoAgents {
		if c.agents.Exists(d.id) {
			continue
		}
		if _, err := c.agents.Register(&agent.Agent{
			ID:       d.id,
			Metadata: map[string]any{"name": d.name},
		}); err != nil {
			return fmt.Errorf("registering %s: %w", d.id, err)
		}
		if amount > 0 {
			if _, err := c.journal.RecordTopUp(d.id, amount, ledger.NewReference("seed"), "demo funding"); err != nil {
				return fmt.Errorf("funding %s: %w", d.id, err)
			}
		}
		slog.Info("seeded agent", "id", d.id, "balance", amount)
	}
	return nil
}
