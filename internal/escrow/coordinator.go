// Package escrow implements two-phase fund reservation: funds are locked in
// the payer's hold, then either released to the recipient or returned.
package escrow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/google/uuid"
)

// Status is the state of an escrow. Locked is the only non-terminal state.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusReleased  Status = "released"
	StatusCancelled Status = "cancelled"
)

// Error codes reported in a Result.
const (
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodePayerNotFound     = "PAYER_NOT_FOUND"
	CodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeExecutionError    = "EXECUTION_ERROR"
	CodeNotFound          = "ESCROW_NOT_FOUND"
	CodeNotLocked         = "ESCROW_NOT_LOCKED"
)

// Escrow is a reservation of funds from one agent for another. Its ID is
// also the ledger reference ID of every entry it produces.
type Escrow struct {
	ID          string     `json:"id"`
	FromAgentID string     `json:"from_agent_id"`
	ToAgentID   string     `json:"to_agent_id"`
	Amount      int64      `json:"amount"`
	Status      Status     `json:"status"`
	Memo        string     `json:"memo,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e *Escrow) clone() *Escrow {
	out := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Result is the outcome of an escrow operation.
type Result struct {
	Success      bool    `json:"success"`
	Escrow       *Escrow `json:"escrow"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// MetricsRecorder is notified of every escrow transition attempt.
type MetricsRecorder interface {
	RecordEscrow(transition, outcome string)
}

// Coordinator owns the escrow map. Every operation runs as one journal
// critical section, which also guards the map.
type Coordinator struct {
	journal *ledger.Journal
	metrics MetricsRecorder
	now     func() time.Time
	escrows map[string]*Escrow
}

// NewCoordinator creates a coordinator writing to the given journal.
func NewCoordinator(journal *ledger.Journal) *Coordinator {
	return &Coordinator{
		journal: journal,
		now:     time.Now,
		escrows: make(map[string]*Escrow),
	}
}

// SetMetrics sets the optional metrics recorder.
func (c *Coordinator) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// Create locks amount from the payer's balance into its hold.
func (c *Coordinator) Create(fromID, toID string, amount int64, memo string) *Result {
	var res *Result
	_ = c.journal.Exec(func(tx *ledger.Tx) error {
		esc := &Escrow{
			ID:          uuid.NewString(),
			FromAgentID: fromID,
			ToAgentID:   toID,
			Amount:      amount,
			Status:      StatusLocked,
			Memo:        memo,
			CreatedAt:   c.now().UTC(),
		}

		if amount <= 0 {
			res = failed(esc, CodeInvalidAmount, "Escrow amount must be positive")
			return nil
		}
		payer, ok := tx.Agent(fromID)
		if !ok {
			res = failed(esc, CodePayerNotFound, fmt.Sprintf("Payer agent %s not found", fromID))
			return nil
		}
		if _, ok := tx.Agent(toID); !ok {
			res = failed(esc, CodeRecipientNotFound, fmt.Sprintf("Recipient agent %s not found", toID))
			return nil
		}
		if !payer.Wallet.CanHold(amount) {
			res = failed(esc, CodeInsufficientFunds,
				fmt.Sprintf("Insufficient balance: %d < %d", payer.Wallet.Balance, amount))
			return nil
		}

		if _, err := tx.RecordEscrowLock(fromID, amount, esc.ID, memo); err != nil {
			res = failed(esc, CodeExecutionError, fmt.Sprintf("Escrow creation failed: %v", err))
			return nil
		}
		c.escrows[esc.ID] = esc
		res = &Result{Success: true, Escrow: esc.clone()}
		return nil
	})
	c.record("create", res)
	return res
}

// Release pays the locked funds to the recipient.
func (c *Coordinator) Release(id string) *Result {
	res := c.settle(id, "release", func(tx *ledger.Tx, esc *Escrow) error {
		_, err := tx.RecordEscrowRelease(esc.FromAgentID, esc.ToAgentID, esc.Amount, esc.ID, esc.Memo)
		return err
	}, StatusReleased)
	c.record("release", res)
	return res
}

// Cancel returns the locked funds to the payer's balance.
func (c *Coordinator) Cancel(id string) *Result {
	res := c.settle(id, "cancel", func(tx *ledger.Tx, esc *Escrow) error {
		_, err := tx.RecordEscrowCancel(esc.FromAgentID, esc.Amount, esc.ID, esc.Memo)
		return err
	}, StatusCancelled)
	c.record("cancel", res)
	return res
}

func (c *Coordinator) settle(id, action string, apply func(*ledger.Tx, *Escrow) error, to Status) *Result {
	var res *Result
	_ = c.journal.Exec(func(tx *ledger.Tx) error {
		esc, ok := c.escrows[id]
		if !ok {
			res = failed(&Escrow{ID: id}, CodeNotFound, fmt.Sprintf("Escrow %s not found", id))
			return nil
		}
		if esc.Status != StatusLocked {
			res = failed(esc.clone(), CodeNotLocked, fmt.Sprintf("Escrow is %s, cannot %s", esc.Status, action))
			return nil
		}
		if err := apply(tx, esc); err != nil {
			res = failed(esc.clone(), CodeExecutionError, fmt.Sprintf("Escrow %s failed: %v", actionNoun(action), err))
			return nil
		}

		at := c.now().UTC()
		esc.Status = to
		esc.CompletedAt = &at
		res = &Result{Success: true, Escrow: esc.clone()}
		return nil
	})
	return res
}

// Get returns a copy of the escrow with the given id.
func (c *Coordinator) Get(id string) (*Escrow, bool) {
	var out *Escrow
	_ = c.journal.Exec(func(tx *ledger.Tx) error {
		if esc, ok := c.escrows[id]; ok {
			out = esc.clone()
		}
		return nil
	})
	return out, out != nil
}

// ListByPayer returns escrows funded by the agent.
func (c *Coordinator) ListByPayer(agentID string) []*Escrow {
	return c.filter(func(e *Escrow) bool { return e.FromAgentID == agentID })
}

// ListByRecipient returns escrows payable to the agent.
func (c *Coordinator) ListByRecipient(agentID string) []*Escrow {
	return c.filter(func(e *Escrow) bool { return e.ToAgentID == agentID })
}

// ListByStatus returns escrows in the given state.
func (c *Coordinator) ListByStatus(s Status) []*Escrow {
	return c.filter(func(e *Escrow) bool { return e.Status == s })
}

// List returns every escrow ordered by creation time.
func (c *Coordinator) List() []*Escrow {
	return c.filter(func(*Escrow) bool { return true })
}

// Clear forgets all escrows. Held funds are not returned.
func (c *Coordinator) Clear() {
	_ = c.journal.Exec(func(tx *ledger.Tx) error {
		c.escrows = make(map[string]*Escrow)
		return nil
	})
}

func (c *Coordinator) filter(keep func(*Escrow) bool) []*Escrow {
	var out []*Escrow
	_ = c.journal.Exec(func(tx *ledger.Tx) error {
		for _, e := range c.escrows {
			if keep(e) {
				out = append(out, e.clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *Escrow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (c *Coordinator) record(transition string, res *Result) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = strings.ToLower(res.ErrorCode)
	}
	c.metrics.RecordEscrow(transition, outcome)
}

func failed(esc *Escrow, code, message string) *Result {
	return &Result{Escrow: esc, ErrorCode: code, ErrorMessage: message}
}

func actionNoun(action string) string {
	if action == "cancel" {
		return "cancellation"
	}
	return action
}
