package api

import (
	"net/http"

	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/go-chi/chi/v5"
)

type transactionsHandler struct {
	journal *ledger.Journal
}

func newTransactionsHandler(journal *ledger.Journal) *transactionsHandler {
	return &transactionsHandler{journal: journal}
}

// GetByReference handles GET /v1/transactions/{referenceID}: every entry in
// the reference group, whether its deltas sum to zero and whether it
// conserves value.
func (h *transactionsHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "referenceID")
	entries := h.journal.EntriesForReference(ref)
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "no entries for reference")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference_id": ref,
		"entries":      entries,
		"balanced":     ledger.Balanced(entries),
		"conserved":    ledger.Conserved(entries),
	})
}
