// Package ledger implements the double-entry journal that is the source of
// truth for every wallet mutation.
//
// Each record operation validates its inputs, mutates one or two wallets,
// persists the agents back to the agent store and appends its entries as one
// unit. For any reference group without a top-up or withdrawal entry, the
// entry deltas sum to zero.
package ledger

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/google/uuid"
)

// Errors returned by journal operations.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientHold  = errors.New("insufficient hold")
)

// EntryRecorder receives every appended entry, e.g. for audit export.
type EntryRecorder interface {
	Record(e Entry)
}

type multiRecorder []EntryRecorder

func (m multiRecorder) Record(e Entry) {
	for _, r := range m {
		r.Record(e)
	}
}

// Recorders fans entries out to every non-nil recorder in order.
func Recorders(rs ...EntryRecorder) EntryRecorder {
	var out multiRecorder
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Journal is the append-only entry store. Its mutex is the single writer
// lock for the whole core: every mutation of wallets, entries and the state
// owned by the payment and escrow components runs inside Exec.
type Journal struct {
	mu       sync.Mutex
	agents   *agent.Store
	entries  []Entry
	recorder EntryRecorder
	now      func() time.Time
}

// New creates a journal that mutates agents in the given store.
func New(agents *agent.Store) *Journal {
	return &Journal{
		agents: agents,
		now:    time.Now,
	}
}

// SetRecorder sets the optional entry recorder.
func (j *Journal) SetRecorder(r EntryRecorder) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recorder = r
}

// Agents returns the agent store the journal writes to.
func (j *Journal) Agents() *agent.Store {
	return j.agents
}

// Exec runs fn as one atomic unit under the journal lock. The Tx must not be
// retained after fn returns. Exec is not reentrant.
func (j *Journal) Exec(fn func(tx *Tx) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return fn(&Tx{j: j})
}

// NewReference returns a fresh reference ID with the given prefix.
func NewReference(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// RecordTopUp credits external funds to an agent's balance.
func (j *Journal) RecordTopUp(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	var e Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		e, err = tx.RecordTopUp(agentID, amount, referenceID, memo)
		return err
	})
	return e, err
}

// RecordWithdrawal debits funds leaving the system from an agent's balance.
func (j *Journal) RecordWithdrawal(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	var e Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		e, err = tx.RecordWithdrawal(agentID, amount, referenceID, memo)
		return err
	})
	return e, err
}

// RecordPayment moves amount from one agent's balance to another's and
// returns the debit and credit entries.
func (j *Journal) RecordPayment(fromID, toID string, amount int64, referenceID, memo string) ([]Entry, error) {
	var out []Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		out, err = tx.RecordPayment(fromID, toID, amount, referenceID, memo)
		return err
	})
	return out, err
}

// RecordEscrowLock moves amount from an agent's balance into its hold.
func (j *Journal) RecordEscrowLock(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	var e Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		e, err = tx.RecordEscrowLock(agentID, amount, referenceID, memo)
		return err
	})
	return e, err
}

// RecordEscrowRelease moves amount from the payer's hold to the payee's
// balance and returns the payer and payee entries.
func (j *Journal) RecordEscrowRelease(fromID, toID string, amount int64, referenceID, memo string) ([]Entry, error) {
	var out []Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		out, err = tx.RecordEscrowRelease(fromID, toID, amount, referenceID, memo)
		return err
	})
	return out, err
}

// RecordEscrowCancel moves amount from an agent's hold back to its balance.
func (j *Journal) RecordEscrowCancel(agentID string, amount int64, referenceID, memo string) (Entry, error) {
	var e Entry
	err := j.Exec(func(tx *Tx) error {
		var err error
		e, err = tx.RecordEscrowCancel(agentID, amount, referenceID, memo)
		return err
	})
	return e, err
}

// EntriesForAgent returns the agent's entries in append order.
func (j *Journal) EntriesForAgent(agentID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filterLocked(func(e Entry) bool { return e.AgentID == agentID })
}

// EntriesForReference returns all entries sharing a reference ID.
func (j *Journal) EntriesForReference(referenceID string) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filterLocked(func(e Entry) bool { return e.ReferenceID == referenceID })
}

// AllEntries returns a copy of the whole journal in append order.
func (j *Journal) AllEntries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

// VerifyDoubleEntry reports whether the entries of a reference group sum to
// zero. Empty groups and groups containing a top-up or withdrawal pass.
func (j *Journal) VerifyDoubleEntry(referenceID string) bool {
	return Balanced(j.EntriesForReference(referenceID))
}

// Balanced applies the double-entry rule to a set of entries.
func Balanced(entries []Entry) bool {
	var sum int64
	for _, e := range entries {
		if e.EntryType.External() {
			return true
		}
		sum += e.DeltaAmount
	}
	return sum == 0
}

// Conserved reports whether the entries leave the total of balance plus hold
// across all agents unchanged. Escrow lock and cancel entries only move value
// between one agent's balance and hold, so they count as zero. Unlike
// Balanced, this holds for a whole escrow reference group.
func Conserved(entries []Entry) bool {
	var sum int64
	for _, e := range entries {
		switch {
		case e.EntryType.External():
			return true
		case e.EntryType == EntryEscrowLock, e.EntryType == EntryEscrowCancel:
			continue
		}
		sum += e.DeltaAmount
	}
	return sum == 0
}

// EntryCount returns the number of entries.
func (j *Journal) EntryCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Clear drops every entry. Wallets are not reset. Intended for tests.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

func (j *Journal) filterLocked(keep func(Entry) bool) []Entry {
	var out []Entry
	for _, e := range j.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
