package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/alecgard/agentpay/internal/config"
	"github.com/alecgard/agentpay/internal/escrow"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/alecgard/agentpay/internal/payment"
	"github.com/alecgard/agentpay/internal/policy"
	"github.com/alecgard/agentpay/internal/rail"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the reference payment scenarios against a fresh in-memory ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runScenarios(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

type scenario struct {
	name string
	run  func(c *core) error
}

var scenarios = []scenario{
	{"payment", scenarioPayment},
	{"escrow release", scenarioEscrowRelease},
	{"escrow cancel", scenarioEscrowCancel},
	{"per-transaction limit", scenarioLimit},
	{"double release", scenarioDoubleRelease},
	{"idempotent retry", scenarioIdempotent},
	{"approval", scenarioApproval},
	{"rail authorize and refund", scenarioRail},
}

// runScenarios runs every scenario on its own core and reports each outcome.
// It fails if any scenario does not behave as expected.
func runScenarios(w io.Writer, cfg *config.Config) error {
	var errs []error
	for _, s := range scenarios {
		c := newCore(cfg, nil)
		if err := s.run(c); err != nil {
			fmt.Fprintf(w, "FAIL  %-28s %v\n", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if err := checkConservation(c); err != nil {
			fmt.Fprintf(w, "FAIL  %-28s %v\n", s.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		fmt.Fprintf(w, "ok    %-28s %d entries\n", s.name, c.journal.EntryCount())
	}
	return errors.Join(errs...)
}

// fund registers two agents, a and b, and tops a up.
func fund(c *core, balance int64, p agent.Policy) error {
	for _, id := range []string{"a", "b"} {
		a := &agent.Agent{ID: id}
		if id == "a" {
			a.Policy = p
		}
		if _, err := c.agents.Register(a); err != nil {
			return err
		}
	}
	_, err := c.journal.RecordTopUp("a", balance, ledger.NewReference("topup"), "")
	return err
}

func expectWallet(c *core, id string, balance, hold int64) error {
	a, ok := c.agents.Get(id)
	if !ok {
		return fmt.Errorf("agent %s missing", id)
	}
	if a.Wallet.Balance != balance || a.Wallet.Hold != hold {
		return fmt.Errorf("%s wallet = %+v, want balance %d hold %d", id, a.Wallet, balance, hold)
	}
	return nil
}

// checkConservation verifies that every reference group in the journal
// conserves value.
func checkConservation(c *core) error {
	groups := make(map[string][]ledger.Entry)
	for _, e := range c.journal.AllEntries() {
		groups[e.ReferenceID] = append(groups[e.ReferenceID], e)
	}
	for ref, entries := range groups {
		if !ledger.Conserved(entries) {
			return fmt.Errorf("reference %s does not conserve value", ref)
		}
	}
	return nil
}

func scenarioPayment(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	res := c.payments.Execute(payment.NewIntent("a", "b", 5000))
	if !res.Success {
		return fmt.Errorf("payment failed: %s", res.ErrorMessage)
	}
	if err := expectWallet(c, "a", 5000, 0); err != nil {
		return err
	}
	if err := expectWallet(c, "b", 5000, 0); err != nil {
		return err
	}
	entries := c.journal.EntriesForReference(res.Intent.ID)
	if len(entries) != 2 || !ledger.Balanced(entries) {
		return fmt.Errorf("expected two balanced entries, got %d", len(entries))
	}
	return nil
}

func scenarioEscrowRelease(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	res := c.escrows.Create("a", "b", 3000, "")
	if !res.Success {
		return fmt.Errorf("create failed: %s", res.ErrorMessage)
	}
	if err := expectWallet(c, "a", 7000, 3000); err != nil {
		return err
	}
	if rel := c.escrows.Release(res.Escrow.ID); !rel.Success {
		return fmt.Errorf("release failed: %s", rel.ErrorMessage)
	}
	if err := expectWallet(c, "a", 7000, 0); err != nil {
		return err
	}
	return expectWallet(c, "b", 3000, 0)
}

func scenarioEscrowCancel(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	res := c.escrows.Create("a", "b", 3000, "")
	if cancelled := c.escrows.Cancel(res.Escrow.ID); !cancelled.Success {
		return fmt.Errorf("cancel failed: %s", cancelled.ErrorMessage)
	}
	if err := expectWallet(c, "a", 10000, 0); err != nil {
		return err
	}
	var cancels int
	for _, e := range c.journal.EntriesForReference(res.Escrow.ID) {
		if e.EntryType == ledger.EntryEscrowCancel && e.DeltaAmount == 3000 {
			cancels++
		}
	}
	if cancels != 1 {
		return fmt.Errorf("expected one +3000 cancel entry, got %d", cancels)
	}
	return nil
}

func scenarioLimit(c *core) error {
	limit := int64(1000)
	if err := fund(c, 10000, agent.Policy{MaxPerTransaction: &limit}); err != nil {
		return err
	}
	res := c.payments.Execute(payment.NewIntent("a", "b", 1001))
	if res.Success || res.ErrorCode != string(policy.ReasonAmountExceedsLimit) {
		return fmt.Errorf("expected %s, got %+v", policy.ReasonAmountExceedsLimit, res)
	}
	return expectWallet(c, "a", 10000, 0)
}

func scenarioDoubleRelease(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	res := c.escrows.Create("a", "b", 3000, "")
	c.escrows.Release(res.Escrow.ID)
	second := c.escrows.Release(res.Escrow.ID)
	if second.Success || second.ErrorCode != escrow.CodeNotLocked {
		return fmt.Errorf("expected %s, got %+v", escrow.CodeNotLocked, second)
	}
	return expectWallet(c, "b", 3000, 0)
}

func scenarioIdempotent(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	var first string
	for i := 0; i < 3; i++ {
		in := payment.NewIntent("a", "b", 700)
		in.IdempotencyKey = "retry-1"
		res := c.payments.Execute(in)
		if !res.Success {
			return fmt.Errorf("attempt %d failed: %s", i, res.ErrorMessage)
		}
		if first == "" {
			first = res.Intent.ID
		} else if res.Intent.ID != first {
			return fmt.Errorf("retry produced intent %s, want %s", res.Intent.ID, first)
		}
	}
	return expectWallet(c, "a", 9300, 0)
}

func scenarioApproval(c *core) error {
	threshold := int64(500)
	if err := fund(c, 10000, agent.Policy{RequireHumanApprovalOver: &threshold}); err != nil {
		return err
	}
	res := c.payments.Submit(payment.NewIntent("a", "b", 800))
	if res.Intent.Status != payment.StatusRequiresApproval {
		return fmt.Errorf("expected a held intent, got %s", res.Intent.Status)
	}
	if err := expectWallet(c, "a", 10000, 0); err != nil {
		return err
	}
	if approved := c.payments.Approve(res.Intent.ID); !approved.Success {
		return fmt.Errorf("approve failed: %s", approved.ErrorMessage)
	}
	if direct := c.payments.Execute(payment.NewIntent("a", "b", 700)); !direct.Success {
		return fmt.Errorf("direct payment over the threshold failed: %s", direct.ErrorMessage)
	}
	return expectWallet(c, "b", 1500, 0)
}

func scenarioRail(c *core) error {
	if err := fund(c, 10000, agent.Policy{}); err != nil {
		return err
	}
	auth, err := c.rail.Authorize("a", "b", 2000, map[string]any{"memo": "job"})
	if err != nil {
		return err
	}
	if auth.Status != rail.StatusAuthorized {
		return fmt.Errorf("authorize = %s: %s", auth.Status, auth.ErrorMessage)
	}
	if _, err := c.rail.Capture(auth.ID, nil); err != nil {
		return err
	}

	transfer, err := c.rail.Transfer("a", "b", 1000, nil)
	if err != nil {
		return err
	}
	refund, err := c.rail.Refund(transfer.ID, nil, "demo")
	if err != nil {
		return err
	}
	if refund.Status != rail.StatusCompleted {
		return fmt.Errorf("refund = %s: %s", refund.Status, refund.ErrorMessage)
	}
	if err := expectWallet(c, "a", 8000, 0); err != nil {
		return err
	}
	return expectWallet(c, "b", 2000, 0)
}
