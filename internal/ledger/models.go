package ledger

import "time"

// EntryType classifies what kind of value movement an entry records.
type EntryType string

const (
	EntryPayment       EntryType = "payment"
	EntryEscrowLock    EntryType = "escrow_lock"
	EntryEscrowRelease EntryType = "escrow_release"
	EntryEscrowCancel  EntryType = "escrow_cancel"
	EntryStreamTick    EntryType = "stream_tick"
	EntryTopUp         EntryType = "top_up"
	EntryWithdrawal    EntryType = "withdrawal"
	EntryAdjustment    EntryType = "adjustment"
)

// External reports whether the entry type moves value into or out of the
// system, exempting its reference group from the zero-sum rule.
func (t EntryType) External() bool {
	return t == EntryTopUp || t == EntryWithdrawal
}

// TransactionType marks an entry as income or expense for its agent.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// Entry is an immutable journal record. DeltaAmount is signed: negative for
// debits, positive for credits. BalanceAfter snapshots the agent's available
// balance only; hold changes are not reflected in it.
type Entry struct {
	ID              string          `json:"id"`
	AgentID         string          `json:"agent_id"`
	DeltaAmount     int64           `json:"delta_amount"`
	EntryType       EntryType       `json:"entry_type"`
	ReferenceID     string          `json:"reference_id"`
	BalanceAfter    int64           `json:"balance_after"`
	Memo            string          `json:"memo,omitempty"`
	TransactionType TransactionType `json:"transaction_type,omitempty"`
	CounterpartyID  string          `json:"counterparty_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsDebit reports whether the entry decreased a balance.
func (e Entry) IsDebit() bool { return e.DeltaAmount < 0 }

// IsCredit reports whether the entry increased a balance.
func (e Entry) IsCredit() bool { return e.DeltaAmount > 0 }
