package ledger

import (
	"fmt"
	"time"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/google/uuid"
)

// Tx is the view of the journal available inside Exec. All of its methods
// assume the journal lock is held.
type Tx struct {
	j *Journal
}

// Now returns the journal clock reading.
func (tx *Tx) Now() time.Time {
	return tx.j.now().UTC()
}

// Agent returns a copy of the agent with the given id.
func (tx *Tx) Agent(id string) (*agent.Agent, bool) {
	return tx.j.agents.Get(id)
}

// SaveAgent replaces the stored agent wholesale.
func (tx *Tx) SaveAgent(a *agent.Agent) (*agent.Agent, error) {
	return tx.j.agents.Update(a)
}

// RemoveAgent deletes an agent. Its ledger history is kept.
func (tx *Tx) RemoveAgent(id string) bool {
	return tx.j.agents.Remove(id)
}

// SpentSince sums the agent's outgoing expense since the given time.
func (tx *Tx) SpentSince(agentID string, since time.Time) int64 {
	var spent int64
	for _, e := range tx.j.entries {
		if e.AgentID != agentID || e.TransactionType != TransactionExpense {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		spent += -e.DeltaAmount
	}
	return spent
}

// SpentToday sums the agent's outgoing expense since midnight UTC.
func (tx *Tx) SpentToday(agentID string) int64 {
	return tx.SpentSince(agentID, StartOfDay(tx.Now()))
}

// RecordTopUp credits external funds to an agent's balance.
func (tx *Tx) RecordTopUp(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("top-up: %w", ErrInvalidAmount)
	}
	a, err := tx.load(agentID, "agent")
	if err != nil {
		return Entry{}, err
	}

	before := a.Clone()
	a.Wallet.Balance += amount

	e := tx.entry(a, amount, EntryTopUp, referenceID, memo)
	if err := tx.commit([]*agent.Agent{before}, []*agent.Agent{a}, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecordWithdrawal debits funds leaving the system from an agent's balance.
func (tx *Tx) RecordWithdrawal(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("withdrawal: %w", ErrInvalidAmount)
	}
	a, err := tx.load(agentID, "agent")
	if err != nil {
		return Entry{}, err
	}
	if !a.Wallet.CanSpend(amount) {
		return Entry{}, fmt.Errorf("%w: agent %s has %d, needs %d", ErrInsufficientFunds, agentID, a.Wallet.Balance, amount)
	}

	before := a.Clone()
	a.Wallet.Balance -= amount

	e := tx.entry(a, -amount, EntryWithdrawal, referenceID, memo)
	if err := tx.commit([]*agent.Agent{before}, []*agent.Agent{a}, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecordPayment moves amount from one agent's balance to another's.
func (tx *Tx) RecordPayment(fromID, toID string, amount int64, referenceID, memo string) ([]Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment: %w", ErrInvalidAmount)
	}
	from, to, err := tx.loadPair(fromID, toID)
	if err != nil {
		return nil, err
	}
	if !from.Wallet.CanSpend(amount) {
		return nil, fmt.Errorf("%w: agent %s has %d, needs %d", ErrInsufficientFunds, fromID, from.Wallet.Balance, amount)
	}

	before := []*agent.Agent{from.Clone(), to.Clone()}
	from.Wallet.Balance -= amount
	to.Wallet.Balance += amount
	from.TotalSpent += amount
	to.TotalEarned += amount

	debit := tx.entry(from, -amount, EntryPayment, referenceID, memo)
	debit.TransactionType = TransactionExpense
	debit.CounterpartyID = toID
	credit := tx.entry(to, amount, EntryPayment, referenceID, memo)
	credit.TransactionType = TransactionIncome
	credit.CounterpartyID = fromID

	if err := tx.commit(before, []*agent.Agent{from, to}, debit, credit); err != nil {
		return nil, err
	}
	return []Entry{debit, credit}, nil
}

// RecordEscrowLock moves amount from an agent's balance into its hold. The
// single entry carries -amount; the hold increase is not journaled.
func (tx *Tx) RecordEscrowLock(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("escrow lock: %w", ErrInvalidAmount)
	}
	a, err := tx.load(agentID, "agent")
	if err != nil {
		return Entry{}, err
	}
	if !a.Wallet.CanHold(amount) {
		return Entry{}, fmt.Errorf("%w: agent %s has %d, needs %d", ErrInsufficientFunds, agentID, a.Wallet.Balance, amount)
	}

	before := a.Clone()
	a.Wallet.Balance -= amount
	a.Wallet.Hold += amount

	e := tx.entry(a, -amount, EntryEscrowLock, referenceID, memo)
	if err := tx.commit([]*agent.Agent{before}, []*agent.Agent{a}, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// RecordEscrowRelease moves amount from the payer's hold to the payee's
// balance. The payer entry's BalanceAfter is the payer's unchanged balance.
func (tx *Tx) RecordEscrowRelease(fromID, toID string, amount int64, referenceID, memo string) ([]Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("escrow release: %w", ErrInvalidAmount)
	}
	from, to, err := tx.loadPair(fromID, toID)
	if err != nil {
		return nil, err
	}
	if from.Wallet.Hold < amount {
		return nil, fmt.Errorf("%w: agent %s has %d in hold, needs %d", ErrInsufficientHold, fromID, from.Wallet.Hold, amount)
	}

	before := []*agent.Agent{from.Clone(), to.Clone()}
	from.Wallet.Hold -= amount
	to.Wallet.Balance += amount
	from.TotalSpent += amount
	to.TotalEarned += amount

	payer := tx.entry(from, -amount, EntryEscrowRelease, referenceID, memo)
	payer.TransactionType = TransactionExpense
	payer.CounterpartyID = toID
	payee := tx.entry(to, amount, EntryEscrowRelease, referenceID, memo)
	payee.TransactionType = TransactionIncome
	payee.CounterpartyID = fromID

	if err := tx.commit(before, []*agent.Agent{from, to}, payer, payee); err != nil {
		return nil, err
	}
	return []Entry{payer, payee}, nil
}

// RecordEscrowCancel moves amount from an agent's hold back to its balance.
func (tx *Tx) RecordEscrowCancel(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, fmt.Errorf("escrow cancel: %w", ErrInvalidAmount)
	}
	a, err := tx.load(agentID, "agent")
	if err != nil {
		return Entry{}, err
	}
	if a.Wallet.Hold < amount {
		return Entry{}, fmt.Errorf("%w: agent %s has %d in hold, needs %d", ErrInsufficientHold, agentID, a.Wallet.Hold, amount)
	}

	before := a.Clone()
	a.Wallet.Hold -= amount
	a.Wallet.Balance += amount

	e := tx.entry(a, amount, EntryEscrowCancel, referenceID, memo)
	if err := tx.commit([]*agent.Agent{before}, []*agent.Agent{a}, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (tx *Tx) load(id, role string) (*agent.Agent, error) {
	a, ok := tx.j.agents.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrAgentNotFound, role, id)
	}
	return a, nil
}

// loadPair resolves payer and payee. When both IDs are equal the same copy
// is returned twice so that both sides of the movement apply to it.
func (tx *Tx) loadPair(fromID, toID string) (*agent.Agent, *agent.Agent, error) {
	from, err := tx.load(fromID, "payer")
	if err != nil {
		return nil, nil, err
	}
	if fromID == toID {
		return from, from, nil
	}
	to, err := tx.load(toID, "payee")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (tx *Tx) entry(a *agent.Agent, delta int64, typ EntryType, referenceID, memo string) Entry {
	return Entry{
		ID:           uuid.NewString(),
		AgentID:      a.ID,
		DeltaAmount:  delta,
		EntryType:    typ,
		ReferenceID:  referenceID,
		BalanceAfter: a.Wallet.Balance,
		Memo:         memo,
		CreatedAt:    tx.Now(),
	}
}

// commit writes the mutated agents back and appends the entries. If an agent
// write fails, the agents already written are restored from before and no
// entry is appended.
func (tx *Tx) commit(before, after []*agent.Agent, entries ...Entry) error {
	written := make(map[string]bool, len(after))
	for i, a := range after {
		if written[a.ID] {
			continue
		}
		if _, err := tx.j.agents.Update(a); err != nil {
			for k := 0; k < i; k++ {
				if written[before[k].ID] {
					_, _ = tx.j.agents.Update(before[k])
				}
			}
			return fmt.Errorf("persisting agent %s: %w", a.ID, err)
		}
		written[a.ID] = true
	}

	tx.j.entries = append(tx.j.entries, entries...)
	if tx.j.recorder != nil {
		for _, e := range entries {
			tx.j.recorder.Record(e)
		}
	}
	return nil
}
