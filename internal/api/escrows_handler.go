package api

import (
	"net/http"

	"github.com/alecgard/agentpay/internal/escrow"
	"github.com/go-chi/chi/v5"
)

// escrowsHandler groups escrow HTTP handlers.
type escrowsHandler struct {
	escrows *escrow.Coordinator
	payer   *payerLimiter
}

func newEscrowsHandler(escrows *escrow.Coordinator, payer *payerLimiter) *escrowsHandler {
	return &escrowsHandler{escrows: escrows, payer: payer}
}

type createEscrowRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo"`
}

type escrowResponse struct {
	Success      bool           `json:"success"`
	EscrowID     string         `json:"escrow_id,omitempty"`
	Status       escrow.Status  `json:"status,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Escrow       *escrow.Escrow `json:"escrow,omitempty"`
}

func newEscrowResponse(res *escrow.Result) escrowResponse {
	out := escrowResponse{
		Success:      res.Success,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
	}
	// Failed creations carry a draft that was never stored.
	if res.Success || res.ErrorCode == escrow.CodeNotLocked {
		out.EscrowID = res.Escrow.ID
		out.Status = res.Escrow.Status
		out.Escrow = res.Escrow
	}
	return out
}

// CreateEscrow handles POST /v1/escrows.
func (h *escrowsHandler) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if msg := validateTransfer(req.FromAgent, req.ToAgent, req.Amount); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", msg)
		return
	}

	if !h.payer.allow(w, req.FromAgent) {
		return
	}

	res := h.escrows.Create(req.FromAgent, req.ToAgent, req.Amount, req.Memo)
	if res.Success {
		auditLog(r, "create", "escrow", res.Escrow.ID,
			"from_agent", req.FromAgent,
			"to_agent", req.ToAgent,
			"amount", req.Amount,
		)
	}

	writeJSON(w, outcomeStatus(res.Success), newEscrowResponse(res))
}

// GetEscrow handles GET /v1/escrows/{id}.
func (h *escrowsHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	esc, ok := h.escrows.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, escrow.CodeNotFound, "escrow not found")
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// ListEscrows handles GET /v1/escrows with optional payer, recipient and
// status filters. Filters combine with AND.
func (h *escrowsHandler) ListEscrows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	payer, recipient, status := q.Get("payer"), q.Get("recipient"), escrow.Status(q.Get("status"))

	var list []*escrow.Escrow
	switch {
	case payer != "":
		list = h.escrows.ListByPayer(payer)
	case recipient != "":
		list = h.escrows.ListByRecipient(recipient)
	case status != "":
		list = h.escrows.ListByStatus(status)
	default:
		list = h.escrows.List()
	}

	out := make([]*escrow.Escrow, 0, len(list))
	for _, e := range list {
		if recipient != "" && e.ToAgentID != recipient {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"escrows": out})
}

// ReleaseEscrow handles POST /v1/escrows/{id}/release.
func (h *escrowsHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.writeAction(w, r, "release", id, h.escrows.Release(id))
}

// CancelEscrow handles POST /v1/escrows/{id}/cancel.
func (h *escrowsHandler) CancelEscrow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.writeAction(w, r, "cancel", id, h.escrows.Cancel(id))
}

func (h *escrowsHandler) writeAction(w http.ResponseWriter, r *http.Request, action, id string, res *escrow.Result) {
	if res.ErrorCode == escrow.CodeNotFound {
		writeError(w, http.StatusNotFound, res.ErrorCode, res.ErrorMessage)
		return
	}
	if res.Success {
		auditLog(r, action, "escrow", id, "amount", res.Escrow.Amount)
	}
	writeJSON(w, http.StatusOK, newEscrowResponse(res))
}
