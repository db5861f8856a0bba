package payment

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusRequiresApproval     Status = "requires_approval"
	StatusCompleted            Status = "completed"
	StatusFailedPolicy         Status = "failed_policy"
	StatusFailedFunds          Status = "failed_funds"
	StatusFailedNotFound       Status = "failed_not_found"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRequiresConfirmation, StatusRequiresApproval:
		return false
	default:
		return true
	}
}

// Error codes reported in a Result that do not come from the policy package.
const (
	CodeInvalidAmount    = "INVALID_AMOUNT"
	CodePayerNotFound    = "PAYER_NOT_FOUND"
	CodePayeeNotFound    = "PAYEE_NOT_FOUND"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeRequiresApproval = "REQUIRES_APPROVAL"
	CodeIntentNotFound   = "INTENT_NOT_FOUND"
	CodeIntentNotPending = "INTENT_NOT_PENDING"
)

// ErrInvalidTransition is returned when an intent is moved out of a terminal
// state or into a state its current one cannot reach.
var ErrInvalidTransition = errors.New("invalid payment intent transition")

// Intent is a request to move funds from one agent to another.
type Intent struct {
	ID             string         `json:"id"`
	FromAgentID    string         `json:"from_agent_id"`
	ToAgentID      string         `json:"to_agent_id"`
	Amount         int64          `json:"amount"`
	Status         Status         `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Memo           string         `json:"memo,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
}

// NewIntent returns an intent awaiting execution.
func NewIntent(fromID, toID string, amount int64) *Intent {
	return &Intent{
		ID:          uuid.NewString(),
		FromAgentID: fromID,
		ToAgentID:   toID,
		Amount:      amount,
		Status:      StatusRequiresConfirmation,
		Metadata:    map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}
}

// Clone returns a copy that shares no mutable state with i.
func (i *Intent) Clone() *Intent {
	out := *i
	if i.Metadata != nil {
		out.Metadata = maps.Clone(i.Metadata)
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (i *Intent) markCompleted(at time.Time) error {
	if i.Status.Terminal() {
		return ErrInvalidTransition
	}
	i.Status = StatusCompleted
	i.FailureReason = ""
	i.CompletedAt = &at
	return nil
}

func (i *Intent) markFailed(status Status, reason string, at time.Time) error {
	if i.Status.Terminal() {
		return ErrInvalidTransition
	}
	i.Status = status
	i.FailureReason = reason
	i.CompletedAt = &at
	return nil
}

func (i *Intent) markAwaitingApproval() error {
	if i.Status != StatusRequiresConfirmation {
		return ErrInvalidTransition
	}
	i.Status = StatusRequiresApproval
	return nil
}

func (i *Intent) markCancelled(at time.Time) error {
	if i.Status.Terminal() {
		return ErrInvalidTransition
	}
	i.Status = StatusCancelled
	i.CompletedAt = &at
	return nil
}

// Result is the outcome of executing, approving or cancelling an intent.
type Result struct {
	Success      bool    `json:"success"`
	Intent       *Intent `json:"intent"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}
