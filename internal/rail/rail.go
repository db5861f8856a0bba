// Package rail adapts the ledger to a payment-rail interface so that the
// internal credit system can be driven the same way as an external processor:
// one-shot transfers, authorize/capture/void holds, and refunds.
package rail

import (
	"errors"
	"maps"
	"time"
)

// Errors returned by rail adapters.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidState        = errors.New("transaction is not in a valid state for this operation")
	ErrPartialNotSupported = errors.New("partial amounts not supported")
)

// Status is the lifecycle state of a rail transaction.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Transaction is a value movement as seen by a rail. ExternalID carries the
// rail's own reference, for internal credits the escrow ID of an
// authorization.
type Transaction struct {
	ID           string         `json:"id"`
	Rail         string         `json:"rail"`
	ExternalID   string         `json:"external_id,omitempty"`
	FromAccount  string         `json:"from_account"`
	ToAccount    string         `json:"to_account"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (t *Transaction) clone() *Transaction {
	out := *t
	if t.Metadata != nil {
		out.Metadata = maps.Clone(t.Metadata)
	}
	return &out
}

func (t *Transaction) transition(s Status, at time.Time) {
	t.Status = s
	t.UpdatedAt = at
}

func (t *Transaction) fail(err error, at time.Time) {
	t.Status = StatusFailed
	t.ErrorMessage = err.Error()
	t.UpdatedAt = at
}

// Adapter is implemented by every payment rail.
type Adapter interface {
	Name() string
	Transfer(from, to string, amount int64, meta map[string]any) (*Transaction, error)
	Authorize(from, to string, amount int64, meta map[string]any) (*Transaction, error)
	Capture(id string, amount *int64) (*Transaction, error)
	Void(id string) (*Transaction, error)
	Refund(id string, amount *int64, reason string) (*Transaction, error)
	Get(id string) (*Transaction, bool)
	ValidateAccounts(from, to string) bool
}
