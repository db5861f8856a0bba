package agent

import (
	"errors"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }

func newTestStore(start time.Time) *Store {
	s := NewStore()
	tick := start
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return s
}

func TestRegisterAndGet(t *testing.T) {
	s := NewStore()

	a, err := s.Register(&Agent{ID: "alice", Metadata: map[string]any{"name": "Alice"}})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected created_at to be stamped")
	}

	got, ok := s.Get("alice")
	if !ok {
		t.Fatal("expected agent to exist")
	}
	if got.DisplayName() != "Alice" {
		t.Errorf("expected display name Alice, got %q", got.DisplayName())
	}
	if !s.Exists("alice") || s.Exists("bob") {
		t.Error("Exists returned wrong result")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s := NewStore()
	if _, err := s.Register(&Agent{ID: "alice"}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Register(&Agent{ID: "alice"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 agent, got %d", s.Count())
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name    string
		agent   *Agent
		wantErr error
	}{
		{"empty id", &Agent{ID: ""}, ErrInvalidID},
		{"whitespace id", &Agent{ID: "  "}, ErrInvalidID},
		{"negative limit", &Agent{ID: "x", Policy: Policy{MaxPerTransaction: int64Ptr(-1)}}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore().Register(tt.agent)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	_, _ = s.Register(&Agent{ID: "alice", Policy: Policy{Allowlist: []string{"bob"}}})

	a, _ := s.Get("alice")
	a.Wallet.Balance = 999
	a.Policy.Allowlist[0] = "mallory"
	a.Metadata["k"] = "v"

	again, _ := s.Get("alice")
	if again.Wallet.Balance != 0 {
		t.Errorf("stored balance mutated through copy: %d", again.Wallet.Balance)
	}
	if again.Policy.Allowlist[0] != "bob" {
		t.Errorf("stored allowlist mutated through copy: %v", again.Policy.Allowlist)
	}
	if _, ok := again.Metadata["k"]; ok {
		t.Error("stored metadata mutated through copy")
	}
}

func TestUpdate(t *testing.T) {
	s := NewStore()
	_, _ = s.Register(&Agent{ID: "alice"})

	a, _ := s.Get("alice")
	a.Wallet.Balance = 500
	if _, err := s.Update(a); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	got, _ := s.Get("alice")
	if got.Wallet.Balance != 500 {
		t.Errorf("expected balance 500, got %d", got.Wallet.Balance)
	}

	_, err := s.Update(&Agent{ID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRejectsInvalidPolicy(t *testing.T) {
	s := NewStore()
	_, _ = s.Register(&Agent{ID: "alice", Policy: Policy{DailySpendCap: int64Ptr(100)}})

	a, _ := s.Get("alice")
	a.Policy.DailySpendCap = int64Ptr(-5)
	if _, err := s.Update(a); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	got, _ := s.Get("alice")
	if *got.Policy.DailySpendCap != 100 {
		t.Errorf("rejected update was stored: cap = %d", *got.Policy.DailySpendCap)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := NewStore()
	_, _ = s.Register(&Agent{ID: "a"})
	_, _ = s.Register(&Agent{ID: "b"})

	if !s.Remove("a") {
		t.Error("expected Remove to report true")
	}
	if s.Remove("a") {
		t.Error("expected second Remove to report false")
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 agent, got %d", s.Count())
	}

	s.Clear()
	if s.Count() != 0 {
		t.Errorf("expected empty store, got %d", s.Count())
	}
}

func TestListIsSnapshot(t *testing.T) {
	s := newTestStore(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	_, _ = s.Register(&Agent{ID: "b"})
	_, _ = s.Register(&Agent{ID: "a"})

	list := s.List()
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("expected creation order [b a], got %v", ids(list))
	}

	_, _ = s.Register(&Agent{ID: "c"})
	if len(list) != 2 {
		t.Error("snapshot changed after register")
	}
}

func TestListPage(t *testing.T) {
	s := newTestStore(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		if _, err := s.Register(&Agent{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, next, err := s.ListPage(AgentListParams{Cursor: cursor, Limit: 2})
		if err != nil {
			t.Fatalf("ListPage() error: %v", err)
		}
		seen = append(seen, ids(page)...)
		if next == "" {
			break
		}
		cursor = next
	}

	want := []string{"a1", "a2", "a3", "a4", "a5"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
}

func TestListPageInvalidCursor(t *testing.T) {
	_, _, err := NewStore().ListPage(AgentListParams{Cursor: "not-valid-base64!!!"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
}

func TestPolicyMerge(t *testing.T) {
	base := Policy{MaxPerTransaction: int64Ptr(100), Allowlist: []string{"bob"}}
	paused := true
	empty := []string{}

	merged := base.Merge(UpdatePolicyInput{Paused: &paused})
	if !merged.Paused || *merged.MaxPerTransaction != 100 || len(merged.Allowlist) != 1 {
		t.Errorf("unset fields should keep existing values: %+v", merged)
	}

	merged = base.Merge(UpdatePolicyInput{Allowlist: &empty, MaxPerTransaction: int64Ptr(5)})
	if merged.Allowlist == nil || len(merged.Allowlist) != 0 {
		t.Errorf("expected empty non-nil allowlist, got %v", merged.Allowlist)
	}
	if *merged.MaxPerTransaction != 5 {
		t.Errorf("expected max 5, got %d", *merged.MaxPerTransaction)
	}
	if *base.MaxPerTransaction != 100 {
		t.Error("merge mutated the base policy")
	}
}

func TestWallet(t *testing.T) {
	w := Wallet{Balance: 70, Hold: 30}
	if w.Total() != 100 {
		t.Errorf("expected total 100, got %d", w.Total())
	}
	if !w.CanSpend(70) || w.CanSpend(71) {
		t.Error("CanSpend boundary wrong")
	}
	if err := (Wallet{Balance: -1}).Validate(); err == nil {
		t.Error("expected negative balance to fail validation")
	}
}

func TestEncodeCursor(t *testing.T) {
	ts := time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC)
	id := "550e8400-e29b-41d4-a716-446655440000"

	cursor := encodeCursor(ts, id)
	if cursor == "" {
		t.Fatal("expected non-empty cursor")
	}

	gotTime, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("unexpected error decoding cursor: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("time mismatch: got %v, want %v", gotTime, ts)
	}
	if gotID != id {
		t.Errorf("id mismatch: got %q, want %q", gotID, id)
	}
}

func TestDecodeCursorInvalidFormat(t *testing.T) {
	// Valid base64 but missing the pipe separator.
	_, _, err := decodeCursor("bm9waXBl") // "nopipe"
	if err == nil {
		t.Fatal("expected error for missing separator")
	}
}

func ids(agents []*Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
