// Package policy evaluates whether an agent may make a payment under its
// spending rules. Every function here is a pure predicate.
package policy

import (
	"slices"

	"github.com/alecgard/agentpay/internal/agent"
)

// Reason is the code returned when a payment is rejected.
type Reason string

// Rejection reasons, in the order CanPay checks them.
const (
	ReasonNone                Reason = ""
	ReasonAgentPaused         Reason = "AGENT_PAUSED"
	ReasonRecipientNotAllowed Reason = "RECIPIENT_NOT_ALLOWED"
	ReasonAmountExceedsLimit  Reason = "AMOUNT_EXCEEDS_LIMIT"
	ReasonInsufficientFunds   Reason = "INSUFFICIENT_FUNDS"
	ReasonDailyCapExceeded    Reason = "DAILY_CAP_EXCEEDED"
)

// Kind classifies a rejection reason.
type Kind int

const (
	KindNone Kind = iota
	KindPolicy
	KindFunds
)

// Kind reports whether the reason is a rule violation or a lack of funds.
func (r Reason) Kind() Kind {
	switch r {
	case ReasonNone:
		return KindNone
	case ReasonInsufficientFunds:
		return KindFunds
	default:
		return KindPolicy
	}
}

var messages = map[Reason]string{
	ReasonAgentPaused:         "Payment blocked: agent is paused",
	ReasonRecipientNotAllowed: "Payment blocked: recipient not in allowlist",
	ReasonAmountExceedsLimit:  "Payment blocked: amount exceeds per-transaction limit",
	ReasonInsufficientFunds:   "Payment failed: insufficient balance",
	ReasonDailyCapExceeded:    "Payment blocked: daily spend cap reached",
}

// Message returns a human-readable description of the reason.
func (r Reason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return "Payment failed: " + string(r)
}

// IsAgentAllowed reports whether recipientID may be paid. A nil allowlist
// allows everyone.
func IsAgentAllowed(p agent.Policy, recipientID string) bool {
	if p.Allowlist == nil {
		return true
	}
	return slices.Contains(p.Allowlist, recipientID)
}

// IsAmountAllowed reports whether amount is within the per-transaction limit.
// The limit itself is allowed.
func IsAmountAllowed(p agent.Policy, amount int64) bool {
	if p.MaxPerTransaction == nil {
		return true
	}
	return amount <= *p.MaxPerTransaction
}

// RequiresApproval reports whether amount is strictly over the human
// approval threshold.
func RequiresApproval(p agent.Policy, amount int64) bool {
	if p.RequireHumanApprovalOver == nil {
		return false
	}
	return amount > *p.RequireHumanApprovalOver
}

// WithinDailyCap reports whether spending amount on top of spentToday stays
// within the daily spend cap.
func WithinDailyCap(p agent.Policy, spentToday, amount int64) bool {
	if p.DailySpendCap == nil {
		return true
	}
	return spentToday+amount <= *p.DailySpendCap
}

// CanPay runs the ordered payment checks and stops at the first failure.
// It is read-only: no funds are reserved.
func CanPay(a *agent.Agent, amount int64, recipientID string) (bool, Reason) {
	switch {
	case a.Policy.Paused:
		return false, ReasonAgentPaused
	case !IsAgentAllowed(a.Policy, recipientID):
		return false, ReasonRecipientNotAllowed
	case !IsAmountAllowed(a.Policy, amount):
		return false, ReasonAmountExceedsLimit
	case !a.Wallet.CanSpend(amount):
		return false, ReasonInsufficientFunds
	}
	return true, ReasonNone
}
