package api

import (
	"net/http"
	"strings"

	"github.com/alecgard/agentpay/internal/payment"
	"github.com/go-chi/chi/v5"
)

// paymentsHandler groups payment intent HTTP handlers.
type paymentsHandler struct {
	payments *payment.Orchestrator
	payer    *payerLimiter
}

func newPaymentsHandler(payments *payment.Orchestrator, payer *payerLimiter) *paymentsHandler {
	return &paymentsHandler{payments: payments, payer: payer}
}

type createPaymentRequest struct {
	FromAgent      string         `json:"from_agent"`
	ToAgent        string         `json:"to_agent"`
	Amount         int64          `json:"amount"`
	Memo           string         `json:"memo"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`

	// HoldForApproval parks payments over the payer's approval threshold
	// instead of executing them.
	HoldForApproval bool `json:"hold_for_approval"`
}

type paymentResponse struct {
	Success      bool            `json:"success"`
	IntentID     string          `json:"intent_id"`
	Status       payment.Status  `json:"status"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Intent       *payment.Intent `json:"intent,omitempty"`
}

func newPaymentResponse(res *payment.Result) paymentResponse {
	return paymentResponse{
		Success:      res.Success,
		IntentID:     res.Intent.ID,
		Status:       res.Intent.Status,
		ErrorCode:    res.ErrorCode,
		ErrorMessage: res.ErrorMessage,
		Intent:       res.Intent,
	}
}

// CreatePayment handles POST /v1/payments. Policy, funds and state failures
// come back as success:false with the intent's terminal status.
func (h *paymentsHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
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

	in := payment.NewIntent(req.FromAgent, req.ToAgent, req.Amount)
	in.Memo = req.Memo
	in.IdempotencyKey = req.IdempotencyKey
	if req.Metadata != nil {
		in.Metadata = req.Metadata
	}

	var res *payment.Result
	if req.HoldForApproval {
		res = h.payments.Submit(in)
	} else {
		res = h.payments.Execute(in)
	}

	auditLog(r, "execute", "payment", res.Intent.ID,
		"from_agent", req.FromAgent,
		"to_agent", req.ToAgent,
		"amount", req.Amount,
		"status", res.Intent.Status,
	)

	writeJSON(w, outcomeStatus(res.Success), newPaymentResponse(res))
}

// GetPayment handles GET /v1/payments/{id}.
func (h *paymentsHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	in, ok := h.payments.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, payment.CodeIntentNotFound, "payment intent not found")
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(&payment.Result{
		Success:   in.Status == payment.StatusCompleted,
		Intent:    in,
		ErrorCode: in.FailureReason,
	}))
}

// ApprovePayment handles POST /v1/payments/{id}/approve.
func (h *paymentsHandler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.payments.Approve(id)
	h.writeAction(w, r, "approve", id, res)
}

// CancelPayment handles POST /v1/payments/{id}/cancel.
func (h *paymentsHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.payments.Cancel(id)
	h.writeAction(w, r, "cancel", id, res)
}

func (h *paymentsHandler) writeAction(w http.ResponseWriter, r *http.Request, action, id string, res *payment.Result) {
	if res.ErrorCode == payment.CodeIntentNotFound {
		writeError(w, http.StatusNotFound, res.ErrorCode, res.ErrorMessage)
		return
	}

	auditLog(r, action, "payment", id, "status", res.Intent.Status, "success", res.Success)

	writeJSON(w, http.StatusOK, newPaymentResponse(res))
}

// validateTransfer returns a message describing the first invalid field, or
// the empty string.
func validateTransfer(from, to string, amount int64) string {
	switch {
	case strings.TrimSpace(from) == "":
		return "from_agent is required"
	case strings.TrimSpace(to) == "":
		return "to_agent is required"
	case amount <= 0:
		return "amount must be positive"
	}
	return ""
}
