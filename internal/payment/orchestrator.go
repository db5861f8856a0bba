// Package payment drives payment intents from submission to a terminal state.
//
// The idempotency lookup, agent resolution, policy checks, ledger debit and
// cache write for one intent happen inside a single journal critical section,
// so concurrent submissions cannot interleave between check and debit.
package payment

import (
	"fmt"
	"time"

	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/alecgard/agentpay/internal/policy"
	"github.com/google/uuid"
)

// MetricsRecorder is notified of every intent that reaches a new status.
type MetricsRecorder interface {
	RecordPayment(status string)
}

// Orchestrator executes payment intents against the ledger.
type Orchestrator struct {
	journal *ledger.Journal
	metrics MetricsRecorder
	now     func() time.Time

	// Guarded by the journal lock.
	byKey   map[string]*Intent
	intents map[string]*Intent
}

// NewOrchestrator creates an orchestrator writing to the given journal.
func NewOrchestrator(journal *ledger.Journal) *Orchestrator {
	return &Orchestrator{
		journal: journal,
		now:     time.Now,
		byKey:   make(map[string]*Intent),
		intents: make(map[string]*Intent),
	}
}

// SetMetrics sets the optional metrics recorder.
func (o *Orchestrator) SetMetrics(m MetricsRecorder) {
	o.metrics = m
}

// Execute runs the intent through idempotency, policy and funds checks and
// debits the payer on success. The intent is updated in place. An intent
// whose idempotency key was already seen is not executed again: the stored
// intent is returned instead. The approval threshold is not consulted.
func (o *Orchestrator) Execute(in *Intent) *Result {
	return o.run(in, false)
}

// Submit is Execute with the payer's approval threshold honored: an amount
// over require_human_approval_over parks the intent in requires_approval
// until Approve or Cancel is called.
func (o *Orchestrator) Submit(in *Intent) *Result {
	return o.run(in, true)
}

func (o *Orchestrator) run(in *Intent, gate bool) *Result {
	var res *Result
	_ = o.journal.Exec(func(tx *ledger.Tx) error {
		res = o.execute(tx, in, gate)
		return nil
	})
	return res
}

func (o *Orchestrator) execute(tx *ledger.Tx, in *Intent, gate bool) *Result {
	if in.IdempotencyKey != "" {
		if prev, ok := o.byKey[in.IdempotencyKey]; ok {
			return &Result{
				Success:      prev.Status == StatusCompleted,
				Intent:       prev.Clone(),
				ErrorCode:    prev.FailureReason,
				ErrorMessage: "Already processed: " + string(prev.Status),
			}
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = StatusRequiresConfirmation
	}
	if prev, ok := o.intents[in.ID]; ok {
		return notPending(prev, "execute")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = o.now().UTC()
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}
	if in.Status != StatusRequiresConfirmation {
		return notPending(in, "execute")
	}

	stored := in.Clone()
	res := o.settle(tx, stored, gate)
	o.store(stored)
	*in = *stored.Clone()
	res.Intent = stored.Clone()
	return res
}

// settle applies the checks and, if they pass, the debit. With gate set, an
// amount over the approval threshold parks the intent instead of paying.
func (o *Orchestrator) settle(tx *ledger.Tx, in *Intent, gate bool) *Result {
	if in.Amount <= 0 {
		return o.fail(in, StatusFailedPolicy, CodeInvalidAmount, "Payment failed: amount must be positive")
	}

	payer, ok := tx.Agent(in.FromAgentID)
	if !ok {
		return o.fail(in, StatusFailedNotFound, CodePayerNotFound,
			fmt.Sprintf("Payer agent %s not found", in.FromAgentID))
	}
	if _, ok := tx.Agent(in.ToAgentID); !ok {
		return o.fail(in, StatusFailedNotFound, CodePayeeNotFound,
			fmt.Sprintf("Payee agent %s not found", in.ToAgentID))
	}

	if ok, reason := policy.CanPay(payer, in.Amount, in.ToAgentID); !ok {
		return o.fail(in, statusFor(reason), string(reason), reason.Message())
	}
	if !policy.WithinDailyCap(payer.Policy, tx.SpentToday(payer.ID), in.Amount) {
		reason := policy.ReasonDailyCapExceeded
		return o.fail(in, statusFor(reason), string(reason), reason.Message())
	}

	if gate && policy.RequiresApproval(payer.Policy, in.Amount) {
		if err := in.markAwaitingApproval(); err != nil {
			return o.fail(in, StatusFailedPolicy, CodeExecutionError, err.Error())
		}
		o.record(in.Status)
		return &Result{
			ErrorCode:    CodeRequiresApproval,
			ErrorMessage: "Payment requires human approval",
		}
	}

	if _, err := tx.RecordPayment(in.FromAgentID, in.ToAgentID, in.Amount, in.ID, in.Memo); err != nil {
		return o.fail(in, StatusFailedPolicy, CodeExecutionError,
			fmt.Sprintf("Payment execution failed: %v", err))
	}
	_ = in.markCompleted(o.now().UTC())
	o.record(in.Status)
	return &Result{Success: true}
}

func (o *Orchestrator) fail(in *Intent, status Status, code, message string) *Result {
	_ = in.markFailed(status, code, o.now().UTC())
	o.record(in.Status)
	return &Result{ErrorCode: code, ErrorMessage: message}
}

// Approve executes an intent that was parked for human approval. Policy and
// funds are checked again at approval time.
func (o *Orchestrator) Approve(id string) *Result {
	var res *Result
	_ = o.journal.Exec(func(tx *ledger.Tx) error {
		in, ok := o.intents[id]
		if !ok {
			res = notFound(id)
			return nil
		}
		if in.Status != StatusRequiresApproval {
			res = notPending(in, "approve")
			return nil
		}
		res = o.settle(tx, in, false)
		res.Intent = in.Clone()
		return nil
	})
	return res
}

// Cancel moves a pending intent to cancelled. No funds have moved for a
// pending intent, so nothing is reversed.
func (o *Orchestrator) Cancel(id string) *Result {
	var res *Result
	_ = o.journal.Exec(func(tx *ledger.Tx) error {
		in, ok := o.intents[id]
		if !ok {
			res = notFound(id)
			return nil
		}
		if err := in.markCancelled(o.now().UTC()); err != nil {
			res = notPending(in, "cancel")
			return nil
		}
		o.record(in.Status)
		res = &Result{Success: true, Intent: in.Clone()}
		return nil
	})
	return res
}

// Get returns a copy of any intent the orchestrator has processed.
func (o *Orchestrator) Get(id string) (*Intent, bool) {
	var out *Intent
	_ = o.journal.Exec(func(tx *ledger.Tx) error {
		if in, ok := o.intents[id]; ok {
			out = in.Clone()
		}
		return nil
	})
	return out, out != nil
}

// ClearIdempotencyCache forgets every idempotency key. Intents stay
// retrievable by ID.
func (o *Orchestrator) ClearIdempotencyCache() {
	_ = o.journal.Exec(func(tx *ledger.Tx) error {
		o.byKey = make(map[string]*Intent)
		return nil
	})
}

func (o *Orchestrator) store(in *Intent) {
	o.intents[in.ID] = in
	if in.IdempotencyKey != "" {
		o.byKey[in.IdempotencyKey] = in
	}
}

func (o *Orchestrator) record(s Status) {
	if o.metrics != nil {
		o.metrics.RecordPayment(string(s))
	}
}

func statusFor(r policy.Reason) Status {
	if r.Kind() == policy.KindFunds {
		return StatusFailedFunds
	}
	return StatusFailedPolicy
}

func notFound(id string) *Result {
	return &Result{
		Intent:       &Intent{ID: id},
		ErrorCode:    CodeIntentNotFound,
		ErrorMessage: fmt.Sprintf("Payment intent %s not found", id),
	}
}

func notPending(in *Intent, action string) *Result {
	return &Result{
		Intent:       in.Clone(),
		ErrorCode:    CodeIntentNotPending,
		ErrorMessage: fmt.Sprintf("Intent is %s, cannot %s", in.Status, action),
	}
}
