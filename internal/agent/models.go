package agent

import (
	"errors"
	"maps"
	"slices"
	"time"
)

// Wallet holds an agent's available balance and the funds reserved against it.
// All amounts are in minor currency units.
type Wallet struct {
	Balance int64 `json:"balance"`
	Hold    int64 `json:"hold"`
}

// Total returns balance plus hold.
func (w Wallet) Total() int64 {
	return w.Balance + w.Hold
}

// CanSpend reports whether the available balance covers amount.
func (w Wallet) CanSpend(amount int64) bool {
	return w.Balance >= amount
}

// CanHold reports whether amount can be moved from balance into hold.
func (w Wallet) CanHold(amount int64) bool {
	return w.Balance >= amount
}

// Validate checks the non-negativity invariant.
func (w Wallet) Validate() error {
	if w.Balance < 0 || w.Hold < 0 {
		return errors.New("wallet balance and hold must be non-negative")
	}
	return nil
}

// Policy holds the spending rules evaluated before an agent can pay.
// A nil limit means no limit. A nil Allowlist means any recipient is allowed;
// an empty non-nil Allowlist allows nobody.
type Policy struct {
	MaxPerTransaction        *int64   `json:"max_per_transaction"`
	DailySpendCap            *int64   `json:"daily_spend_cap"`
	RequireHumanApprovalOver *int64   `json:"require_human_approval_over"`
	Allowlist                []string `json:"allowlist"`
	Paused                   bool     `json:"paused"`
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	out := p
	out.MaxPerTransaction = clonePtr(p.MaxPerTransaction)
	out.DailySpendCap = clonePtr(p.DailySpendCap)
	out.RequireHumanApprovalOver = clonePtr(p.RequireHumanApprovalOver)
	if p.Allowlist != nil {
		out.Allowlist = slices.Clone(p.Allowlist)
	}
	return out
}

// Merge applies the non-nil fields of in on top of p and returns the result.
func (p Policy) Merge(in UpdatePolicyInput) Policy {
	out := p.Clone()
	if in.MaxPerTransaction != nil {
		out.MaxPerTransaction = clonePtr(in.MaxPerTransaction)
	}
	if in.DailySpendCap != nil {
		out.DailySpendCap = clonePtr(in.DailySpendCap)
	}
	if in.RequireHumanApprovalOver != nil {
		out.RequireHumanApprovalOver = clonePtr(in.RequireHumanApprovalOver)
	}
	if in.Allowlist != nil {
		out.Allowlist = slices.Clone(*in.Allowlist)
	}
	if in.Paused != nil {
		out.Paused = *in.Paused
	}
	return out
}

// Validate rejects negative limits.
func (p Policy) Validate() error {
	for _, v := range []*int64{p.MaxPerTransaction, p.DailySpendCap, p.RequireHumanApprovalOver} {
		if v != nil && *v < 0 {
			return ErrInvalidPolicy
		}
	}
	return nil
}

// UpdatePolicyInput holds optional fields for a partial policy update.
type UpdatePolicyInput struct {
	MaxPerTransaction        *int64    `json:"max_per_transaction,omitempty"`
	DailySpendCap            *int64    `json:"daily_spend_cap,omitempty"`
	RequireHumanApprovalOver *int64    `json:"require_human_approval_over,omitempty"`
	Allowlist                *[]string `json:"allowlist,omitempty"`
	Paused                   *bool     `json:"paused,omitempty"`
}

// Agent is a logical identity that owns a wallet and spends under a policy.
type Agent struct {
	ID          string         `json:"id"`
	Wallet      Wallet         `json:"wallet"`
	Policy      Policy         `json:"policy"`
	Metadata    map[string]any `json:"metadata"`
	TotalEarned int64          `json:"total_earned"`
	TotalSpent  int64          `json:"total_spent"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NetProfit returns earned minus spent.
func (a *Agent) NetProfit() int64 {
	return a.TotalEarned - a.TotalSpent
}

// DisplayName returns the "name" metadata value, falling back to the ID.
func (a *Agent) DisplayName() string {
	if name, ok := a.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return a.ID
}

// Clone returns a deep copy. Nested metadata values are copied shallowly.
func (a *Agent) Clone() *Agent {
	out := *a
	out.Policy = a.Policy.Clone()
	if a.Metadata != nil {
		out.Metadata = maps.Clone(a.Metadata)
	}
	return &out
}

// AgentListParams controls cursor-based pagination for listing agents.
type AgentListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

func clonePtr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
