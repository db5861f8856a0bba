package rail

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/alecgard/agentpay/internal/escrow"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/google/uuid"
)

// InternalCredits settles transactions directly on the ledger. Transfers
// become ledger payments and authorizations become escrows.
type InternalCredits struct {
	agents   *agent.Store
	journal  *ledger.Journal
	escrows  *escrow.Coordinator
	currency string
	now      func() time.Time

	mu  sync.Mutex
	txs map[string]*Transaction
}

var _ Adapter = (*InternalCredits)(nil)

// NewInternalCredits creates the adapter. Currency is a label carried on
// every transaction; no conversion is ever done.
func NewInternalCredits(journal *ledger.Journal, escrows *escrow.Coordinator, currency string) *InternalCredits {
	if currency == "" {
		currency = "USD"
	}
	return &InternalCredits{
		agents:   journal.Agents(),
		journal:  journal,
		escrows:  escrows,
		currency: currency,
		now:      time.Now,
		txs:      make(map[string]*Transaction),
	}
}

// Name returns the rail identifier.
func (r *InternalCredits) Name() string { return "internal_credits" }

// Transfer records a ledger payment. Ledger failures are reported on the
// returned transaction, which is then in the failed state.
func (r *InternalCredits) Transfer(from, to string, amount int64, meta map[string]any) (*Transaction, error) {
	tx := r.newTransaction(from, to, amount, meta)

	err := r.checkAccounts(from, to)
	if err == nil {
		_, err = r.journal.RecordPayment(from, to, amount, tx.ID, memoOf(meta))
	}
	if err != nil {
		tx.fail(err, r.now().UTC())
	} else {
		tx.transition(StatusCompleted, r.now().UTC())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
	return tx.clone(), nil
}

// Authorize places the amount in escrow. The escrow ID becomes the
// transaction's ExternalID.
func (r *InternalCredits) Authorize(from, to string, amount int64, meta map[string]any) (*Transaction, error) {
	tx := r.newTransaction(from, to, amount, meta)

	res := r.escrows.Create(from, to, amount, memoOf(meta))
	if res.Success {
		tx.ExternalID = res.Escrow.ID
		tx.transition(StatusAuthorized, r.now().UTC())
	} else {
		tx.fail(errors.New(res.ErrorMessage), r.now().UTC())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID] = tx
	return tx.clone(), nil
}

// Capture releases an authorization to the recipient. Only full captures
// are supported: a non-nil amount must equal the authorized amount.
func (r *InternalCredits) Capture(id string, amount *int64) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.pendingLocked(id, StatusAuthorized, "capture")
	if err != nil {
		return nil, err
	}
	if amount != nil && *amount != tx.Amount {
		return nil, fmt.Errorf("capture of %d against %d: %w", *amount, tx.Amount, ErrPartialNotSupported)
	}

	if res := r.escrows.Release(tx.ExternalID); res.Success {
		tx.transition(StatusCaptured, r.now().UTC())
	} else {
		tx.fail(errors.New(res.ErrorMessage), r.now().UTC())
	}
	return tx.clone(), nil
}

// Void returns an authorization to the payer.
func (r *InternalCredits) Void(id string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.pendingLocked(id, StatusAuthorized, "void")
	if err != nil {
		return nil, err
	}

	if res := r.escrows.Cancel(tx.ExternalID); res.Success {
		tx.transition(StatusCancelled, r.now().UTC())
	} else {
		tx.fail(errors.New(res.ErrorMessage), r.now().UTC())
	}
	return tx.clone(), nil
}

// Refund reverses a completed transfer in full with a new transaction. On
// success the original is marked refunded.
func (r *InternalCredits) Refund(id string, amount *int64, reason string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orig, err := r.pendingLocked(id, StatusCompleted, "refund")
	if err != nil {
		return nil, err
	}
	if amount != nil && *amount != orig.Amount {
		return nil, fmt.Errorf("refund of %d against %d: %w", *amount, orig.Amount, ErrPartialNotSupported)
	}
	if reason == "" {
		reason = "Refund"
	}

	refund := r.newTransaction(orig.ToAccount, orig.FromAccount, orig.Amount, map[string]any{
		"refund_for": id,
		"reason":     reason,
	})
	refund.Currency = orig.Currency

	memo := fmt.Sprintf("Refund for %s: %s", id, reason)
	if _, err := r.journal.RecordPayment(refund.FromAccount, refund.ToAccount, refund.Amount, refund.ID, memo); err != nil {
		refund.fail(err, r.now().UTC())
	} else {
		refund.transition(StatusCompleted, r.now().UTC())
		orig.transition(StatusRefunded, r.now().UTC())
	}
	r.txs[refund.ID] = refund
	return refund.clone(), nil
}

// Get returns a copy of the transaction.
func (r *InternalCredits) Get(id string) (*Transaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, false
	}
	return tx.clone(), true
}

// ValidateAccounts reports whether both agents exist.
func (r *InternalCredits) ValidateAccounts(from, to string) bool {
	return r.checkAccounts(from, to) == nil
}

// Clear forgets every transaction.
func (r *InternalCredits) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = make(map[string]*Transaction)
}

func (r *InternalCredits) newTransaction(from, to string, amount int64, meta map[string]any) *Transaction {
	if meta == nil {
		meta = map[string]any{}
	}
	now := r.now().UTC()
	return &Transaction{
		ID:          uuid.NewString(),
		Rail:        r.Name(),
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Currency:    r.currency,
		Status:      StatusPending,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *InternalCredits) pendingLocked(id string, want Status, action string) (*Transaction, error) {
	tx, ok := r.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	if tx.Status != want {
		return nil, fmt.Errorf("transaction is %s, cannot %s: %w", tx.Status, action, ErrInvalidState)
	}
	return tx, nil
}

func (r *InternalCredits) checkAccounts(from, to string) error {
	if !r.agents.Exists(from) {
		return fmt.Errorf("source account %s: %w", from, ledger.ErrAgentNotFound)
	}
	if !r.agents.Exists(to) {
		return fmt.Errorf("destination account %s: %w", to, ledger.ErrAgentNotFound)
	}
	return nil
}

func memoOf(meta map[string]any) string {
	if s, ok := meta["memo"].(string); ok {
		return s
	}
	return ""
}
