package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecgard/agentpay/internal/ledger"
)

func TestSummary(t *testing.T) {
	m := New()
	m.RegisterLedgerCollector(func() LedgerStats {
		return LedgerStats{Agents: 2, Entries: 5, TotalBalance: 900, TotalHold: 100}
	})

	m.RecordPayment("completed")
	m.RecordPayment("completed")
	m.RecordPayment("failed_funds")
	m.RecordEscrow("create", "success")
	m.RecordEscrow("release", "success")
	m.RecordEscrow("release", "escrow_not_locked")
	m.Record(ledger.Entry{EntryType: ledger.EntryPayment, DeltaAmount: -300})
	m.Record(ledger.Entry{EntryType: ledger.EntryPayment, DeltaAmount: 300})
	m.Record(ledger.Entry{EntryType: ledger.EntryTopUp, DeltaAmount: 1000})
	m.IncRateLimitRejection("payer")
	m.ObserveAuditFlush(3, time.Millisecond, nil)
	m.ObserveAuditFlush(2, time.Millisecond, errors.New("boom"))
	m.ObserveHTTPRequest("POST", "/v1/payments", 200, 5*time.Millisecond)
	m.ObserveHTTPRequest("POST", "/v1/payments", 422, 5*time.Millisecond)

	s, err := m.Summary()
	if err != nil {
		t.Fatal(err)
	}

	if s.Payments.Total != 3 || s.Payments.ByStatus["completed"] != 2 {
		t.Errorf("payments = %+v", s.Payments)
	}
	if s.Payments.Volume != 300 {
		t.Errorf("volume = %v, want 300", s.Payments.Volume)
	}
	if s.Escrows.Created != 1 || s.Escrows.Released != 1 || s.Escrows.Failed != 1 {
		t.Errorf("escrows = %+v", s.Escrows)
	}
	if s.Ledger.Agents != 2 || s.Ledger.TotalHold != 100 || s.Ledger.EntriesByType["payment"] != 2 {
		t.Errorf("ledger = %+v", s.Ledger)
	}
	if s.RateLimit.Rejections != 1 {
		t.Errorf("rate limit = %+v", s.RateLimit)
	}
	if s.Audit.TotalFlushes != 2 || s.Audit.FlushErrors != 1 || s.Audit.Entries != 3 {
		t.Errorf("audit = %+v", s.Audit)
	}
	if s.HTTP.TotalRequests != 2 || s.HTTP.ErrorRate != 0.5 {
		t.Errorf("http = %+v", s.HTTP)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s Summary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if s.Server.StartTime == 0 {
		t.Error("expected start time")
	}
}
