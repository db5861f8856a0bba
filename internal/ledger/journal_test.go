package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/agentpay/internal/agent"
)

type captureRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureRecorder) Record(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func newTestJournal(t *testing.T, ids ...string) *Journal {
	t.Helper()
	store := agent.NewStore()
	for _, id := range ids {
		if _, err := store.Register(&agent.Agent{ID: id}); err != nil {
			t.Fatalf("registering %s: %v", id, err)
		}
	}
	return New(store)
}

func wallet(t *testing.T, j *Journal, id string) agent.Wallet {
	t.Helper()
	a, ok := j.Agents().Get(id)
	if !ok {
		t.Fatalf("agent %s not found", id)
	}
	return a.Wallet
}

func TestTopUpThenPayment(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")

	if _, err := j.RecordTopUp("alice", 10000, "topup-1", ""); err != nil {
		t.Fatalf("RecordTopUp: %v", err)
	}
	entries, err := j.RecordPayment("alice", "bob", 5000, "pay-1", "services")
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	if got := wallet(t, j, "alice").Balance; got != 5000 {
		t.Errorf("alice balance = %d, want 5000", got)
	}
	if got := wallet(t, j, "bob").Balance; got != 5000 {
		t.Errorf("bob balance = %d, want 5000", got)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].DeltaAmount+entries[1].DeltaAmount != 0 {
		t.Errorf("payment entries do not sum to zero: %+v", entries)
	}

	debit, credit := entries[0], entries[1]
	if debit.TransactionType != TransactionExpense || debit.CounterpartyID != "bob" {
		t.Errorf("unexpected debit entry %+v", debit)
	}
	if credit.TransactionType != TransactionIncome || credit.CounterpartyID != "alice" {
		t.Errorf("unexpected credit entry %+v", credit)
	}
	if debit.BalanceAfter != 5000 || credit.BalanceAfter != 5000 {
		t.Errorf("unexpected balance_after values %d / %d", debit.BalanceAfter, credit.BalanceAfter)
	}
	if !j.VerifyDoubleEntry("pay-1") {
		t.Error("payment group should be balanced")
	}

	alice, _ := j.Agents().Get("alice")
	bob, _ := j.Agents().Get("bob")
	if alice.TotalSpent != 5000 || bob.TotalEarned != 5000 {
		t.Errorf("totals not updated: spent=%d earned=%d", alice.TotalSpent, bob.TotalEarned)
	}
}

func TestEscrowLockRelease(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	if _, err := j.RecordTopUp("alice", 10000, "topup-1", ""); err != nil {
		t.Fatal(err)
	}

	lock, err := j.RecordEscrowLock("alice", 3000, "esc-1", "")
	if err != nil {
		t.Fatalf("RecordEscrowLock: %v", err)
	}
	if lock.DeltaAmount != -3000 || lock.BalanceAfter != 7000 {
		t.Errorf("unexpected lock entry %+v", lock)
	}
	if w := wallet(t, j, "alice"); w.Balance != 7000 || w.Hold != 3000 {
		t.Errorf("after lock wallet = %+v", w)
	}

	entries, err := j.RecordEscrowRelease("alice", "bob", 3000, "esc-1", "")
	if err != nil {
		t.Fatalf("RecordEscrowRelease: %v", err)
	}
	if w := wallet(t, j, "alice"); w.Balance != 7000 || w.Hold != 0 {
		t.Errorf("after release payer wallet = %+v", w)
	}
	if w := wallet(t, j, "bob"); w.Balance != 3000 {
		t.Errorf("after release payee wallet = %+v", w)
	}
	if entries[0].DeltaAmount != -3000 || entries[0].BalanceAfter != 7000 {
		t.Errorf("payer entry = %+v", entries[0])
	}
	if entries[1].DeltaAmount != 3000 || entries[1].BalanceAfter != 3000 {
		t.Errorf("payee entry = %+v", entries[1])
	}
}

func TestEscrowLockCancel(t *testing.T) {
	j := newTestJournal(t, "alice")
	if _, err := j.RecordTopUp("alice", 10000, "topup-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowLock("alice", 3000, "esc-1", ""); err != nil {
		t.Fatal(err)
	}

	e, err := j.RecordEscrowCancel("alice", 3000, "esc-1", "")
	if err != nil {
		t.Fatalf("RecordEscrowCancel: %v", err)
	}
	if e.DeltaAmount != 3000 || e.EntryType != EntryEscrowCancel {
		t.Errorf("unexpected cancel entry %+v", e)
	}
	if w := wallet(t, j, "alice"); w.Balance != 10000 || w.Hold != 0 {
		t.Errorf("after cancel wallet = %+v", w)
	}

	var cancels int
	for _, e := range j.EntriesForAgent("alice") {
		if e.EntryType == EntryEscrowCancel {
			cancels++
		}
	}
	if cancels != 1 {
		t.Errorf("expected exactly one cancel entry, got %d", cancels)
	}
}

func TestWithdrawal(t *testing.T) {
	j := newTestJournal(t, "alice")
	if _, err := j.RecordTopUp("alice", 500, "topup-1", ""); err != nil {
		t.Fatal(err)
	}

	e, err := j.RecordWithdrawal("alice", 200, "withdrawal-1", "cash out")
	if err != nil {
		t.Fatalf("RecordWithdrawal: %v", err)
	}
	if e.DeltaAmount != -200 || e.BalanceAfter != 300 {
		t.Errorf("unexpected withdrawal entry %+v", e)
	}
	if !j.VerifyDoubleEntry("withdrawal-1") {
		t.Error("withdrawal group should be exempt from the zero-sum rule")
	}

	if _, err := j.RecordWithdrawal("alice", 301, "withdrawal-2", ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestValidationOrder(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name: "zero amount before missing agent",
			run: func() error {
				_, err := j.RecordPayment("ghost", "bob", 0, "r", "")
				return err
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "negative top-up",
			run: func() error {
				_, err := j.RecordTopUp("alice", -5, "r", "")
				return err
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "missing payer before funds",
			run: func() error {
				_, err := j.RecordPayment("ghost", "bob", 10, "r", "")
				return err
			},
			wantErr: ErrAgentNotFound,
		},
		{
			name: "missing payee",
			run: func() error {
				_, err := j.RecordPayment("alice", "ghost", 10, "r", "")
				return err
			},
			wantErr: ErrAgentNotFound,
		},
		{
			name: "insufficient balance",
			run: func() error {
				_, err := j.RecordPayment("alice", "bob", 10, "r", "")
				return err
			},
			wantErr: ErrInsufficientFunds,
		},
		{
			name: "lock without balance",
			run: func() error {
				_, err := j.RecordEscrowLock("alice", 10, "r", "")
				return err
			},
			wantErr: ErrInsufficientFunds,
		},
		{
			name: "release without hold",
			run: func() error {
				_, err := j.RecordEscrowRelease("alice", "bob", 10, "r", "")
				return err
			},
			wantErr: ErrInsufficientHold,
		},
		{
			name: "cancel without hold",
			run: func() error {
				_, err := j.RecordEscrowCancel("alice", 10, "r", "")
				return err
			},
			wantErr: ErrInsufficientHold,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := j.EntryCount(); n != 0 {
		t.Errorf("failed operations appended %d entries", n)
	}
	if w := wallet(t, j, "alice"); w.Balance != 0 || w.Hold != 0 {
		t.Errorf("failed operations mutated wallet: %+v", w)
	}
}

func TestSelfPaymentIsNeutral(t *testing.T) {
	j := newTestJournal(t, "alice")
	if _, err := j.RecordTopUp("alice", 100, "topup-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordPayment("alice", "alice", 60, "pay-self", ""); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	a, _ := j.Agents().Get("alice")
	if a.Wallet.Balance != 100 {
		t.Errorf("self payment changed balance to %d", a.Wallet.Balance)
	}
	if a.TotalSpent != 60 || a.TotalEarned != 60 {
		t.Errorf("totals = spent %d earned %d, want 60/60", a.TotalSpent, a.TotalEarned)
	}
	if !j.VerifyDoubleEntry("pay-self") {
		t.Error("self payment should be balanced")
	}
}

func TestPaymentToRemovedAgentRollsBack(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	if _, err := j.RecordTopUp("alice", 100, "topup-1", ""); err != nil {
		t.Fatal(err)
	}

	// Bob disappears between load and commit.
	err := j.Exec(func(tx *Tx) error {
		from, to, err := tx.loadPair("alice", "bob")
		if err != nil {
			return err
		}
		before := []*agent.Agent{from.Clone(), to.Clone()}
		from.Wallet.Balance -= 50
		to.Wallet.Balance += 50
		tx.RemoveAgent("bob")
		return tx.commit(before, []*agent.Agent{from, to}, Entry{ReferenceID: "x"})
	})
	if err == nil {
		t.Fatal("expected commit to fail")
	}
	if got := wallet(t, j, "alice").Balance; got != 100 {
		t.Errorf("alice balance = %d, want rollback to 100", got)
	}
	if len(j.EntriesForReference("x")) != 0 {
		t.Error("entries appended despite failed commit")
	}
}

func TestVerifyDoubleEntry(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		want    bool
	}{
		{"empty", nil, true},
		{"balanced pair", []Entry{{DeltaAmount: -5}, {DeltaAmount: 5}}, true},
		{"lone lock", []Entry{{DeltaAmount: -5, EntryType: EntryEscrowLock}}, false},
		{"top-up exempt", []Entry{{DeltaAmount: 5, EntryType: EntryTopUp}}, true},
		{"withdrawal exempt", []Entry{{DeltaAmount: -5, EntryType: EntryWithdrawal}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Balanced(tt.entries); got != tt.want {
				t.Errorf("Balanced() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConservedEscrowGroup(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	if _, err := j.RecordTopUp("alice", 1000, "topup-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowLock("alice", 300, "esc-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowRelease("alice", "bob", 300, "esc-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowLock("alice", 200, "esc-2", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowCancel("alice", 200, "esc-2", ""); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{"esc-1", "esc-2"} {
		if !Conserved(j.EntriesForReference(ref)) {
			t.Errorf("%s should conserve value", ref)
		}
	}
	// The lock entry is a one-sided delta, so a lock+release group sums to
	// -amount and fails the double-entry check. Only the release pair nets out.
	if j.VerifyDoubleEntry("esc-1") {
		t.Error("escrow group with a lock entry does not sum to zero")
	}
	var sum, releaseSum int64
	for _, e := range j.EntriesForReference("esc-1") {
		sum += e.DeltaAmount
		if e.EntryType == EntryEscrowRelease {
			releaseSum += e.DeltaAmount
		}
	}
	if sum != -300 || releaseSum != 0 {
		t.Errorf("esc-1 sums: group = %d, release pair = %d; want -300 and 0", sum, releaseSum)
	}
	if !j.VerifyDoubleEntry("esc-2") {
		t.Error("lock+cancel group sums to zero")
	}
	if Conserved([]Entry{{DeltaAmount: -5, EntryType: EntryPayment}}) {
		t.Error("lone payment debit is not conserved")
	}
}

func TestSpentToday(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	if _, err := j.RecordTopUp("alice", 1000, "topup-1", ""); err != nil {
		t.Fatal(err)
	}

	now = now.Add(-24 * time.Hour)
	if _, err := j.RecordPayment("alice", "bob", 100, "yesterday", ""); err != nil {
		t.Fatal(err)
	}
	now = now.Add(24 * time.Hour)
	if _, err := j.RecordPayment("alice", "bob", 200, "today", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowLock("alice", 50, "esc-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordEscrowRelease("alice", "bob", 50, "esc-1", ""); err != nil {
		t.Fatal(err)
	}

	var spent, bobSpent int64
	_ = j.Exec(func(tx *Tx) error {
		spent = tx.SpentToday("alice")
		bobSpent = tx.SpentToday("bob")
		return nil
	})
	if spent != 250 {
		t.Errorf("alice spent today = %d, want 250", spent)
	}
	if bobSpent != 0 {
		t.Errorf("bob spent today = %d, want 0", bobSpent)
	}
}

func TestRecorderReceivesEntries(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	rec := &captureRecorder{}
	j.SetRecorder(rec)

	if _, err := j.RecordTopUp("alice", 100, "topup-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordPayment("alice", "bob", 40, "pay-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.RecordPayment("alice", "bob", 400, "pay-2", ""); err == nil {
		t.Fatal("expected failure")
	}

	if len(rec.entries) != 3 {
		t.Errorf("recorder saw %d entries, want 3", len(rec.entries))
	}
}

func TestRecordersFanOut(t *testing.T) {
	j := newTestJournal(t, "alice")
	first, second := &captureRecorder{}, &captureRecorder{}
	j.SetRecorder(Recorders(first, nil, second))

	if _, err := j.RecordTopUp("alice", 100, "topup-1", ""); err != nil {
		t.Fatal(err)
	}
	if len(first.entries) != 1 || len(second.entries) != 1 {
		t.Errorf("fan-out saw %d and %d entries", len(first.entries), len(second.entries))
	}
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	j := newTestJournal(t, "alice", "bob")
	if _, err := j.RecordTopUp("alice", 1000, "topup-1", ""); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = j.RecordPayment("alice", "bob", 30, NewReference("pay"), "")
		}()
	}
	wg.Wait()

	a := wallet(t, j, "alice")
	b := wallet(t, j, "bob")
	if a.Balance < 0 {
		t.Fatalf("alice overdrawn: %d", a.Balance)
	}
	if a.Balance+b.Balance != 1000 {
		t.Errorf("value not conserved: %d + %d", a.Balance, b.Balance)
	}
	if b.Balance != 990 {
		t.Errorf("bob balance = %d, want 990 (33 payments)", b.Balance)
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2026, 5, 1, 23, 59, 0, 0, time.FixedZone("X", 3*3600))
	want := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := StartOfDay(in); !got.Equal(want) {
		t.Errorf("StartOfDay = %v, want %v", got, want)
	}
}
