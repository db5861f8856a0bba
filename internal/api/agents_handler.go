package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/agentpay/internal/agent"
	"github.com/alecgard/agentpay/internal/ledger"
	"github.com/go-chi/chi/v5"
)

// agentsHandler groups agent and wallet HTTP handlers.
type agentsHandler struct {
	journal *ledger.Journal
	store   *agent.Store
}

func newAgentsHandler(journal *ledger.Journal) *agentsHandler {
	return &agentsHandler{
		journal: journal,
		store:   journal.Agents(),
	}
}

// registerAgentRequest is the JSON body for registering an agent.
type registerAgentRequest struct {
	ID                       string         `json:"id"`
	Metadata                 map[string]any `json:"metadata"`
	MaxPerTransaction        *int64         `json:"max_per_transaction"`
	DailySpendCap            *int64         `json:"daily_spend_cap"`
	RequireHumanApprovalOver *int64         `json:"require_human_approval_over"`
	Allowlist                []string       `json:"allowlist"`
	Paused                   bool           `json:"paused"`
}

type walletResponse struct {
	Balance int64 `json:"balance"`
	Hold    int64 `json:"hold"`
	Total   int64 `json:"total"`
}

func newWalletResponse(w agent.Wallet) walletResponse {
	return walletResponse{Balance: w.Balance, Hold: w.Hold, Total: w.Total()}
}

type agentResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata"`
	Policy      agent.Policy   `json:"policy"`
	Wallet      walletResponse `json:"wallet"`
	TotalEarned int64          `json:"total_earned"`
	TotalSpent  int64          `json:"total_spent"`
	NetProfit   int64          `json:"net_profit"`
	CreatedAt   time.Time      `json:"created_at"`
}

func newAgentResponse(a *agent.Agent) agentResponse {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return agentResponse{
		ID:          a.ID,
		Name:        a.DisplayName(),
		Metadata:    meta,
		Policy:      a.Policy,
		Wallet:      newWalletResponse(a.Wallet),
		TotalEarned: a.TotalEarned,
		TotalSpent:  a.TotalSpent,
		NetProfit:   a.NetProfit(),
		CreatedAt:   a.CreatedAt,
	}
}

// RegisterAgent handles POST /v1/agents.
func (h *agentsHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	a, err := h.store.Register(&agent.Agent{
		ID:       req.ID,
		Metadata: req.Metadata,
		Policy: agent.Policy{
			MaxPerTransaction:        req.MaxPerTransaction,
			DailySpendCap:            req.DailySpendCap,
			RequireHumanApprovalOver: req.RequireHumanApprovalOver,
			Allowlist:                req.Allowlist,
			Paused:                   req.Paused,
		},
	})
	switch {
	case errors.Is(err, agent.ErrDuplicateID):
		writeError(w, http.StatusConflict, "AGENT_EXISTS", err.Error())
		return
	case errors.Is(err, agent.ErrInvalidID), errors.Is(err, agent.ErrInvalidPolicy):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to register agent")
		return
	}

	auditLog(r, "register", "agent", a.ID)

	writeJSON(w, http.StatusCreated, newAgentResponse(a))
}

// GetAgent handles GET /v1/agents/{id}.
func (h *agentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, newAgentResponse(a))
}

// ListAgents handles GET /v1/agents.
func (h *agentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	params := agent.AgentListParams{
		Cursor: r.URL.Query().Get("cursor"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		params.Limit = l
	}

	agents, nextCursor, err := h.store.ListPage(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, newAgentResponse(a))
	}
	resp := map[string]any{
		"agents": out,
	}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveAgent handles DELETE /v1/agents/{id}. Entries the agent took part in
// stay in the journal.
func (h *agentsHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var removed bool
	_ = h.journal.Exec(func(tx *ledger.Tx) error {
		removed = tx.RemoveAgent(id)
		return nil
	})
	if !removed {
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}

	auditLog(r, "remove", "agent", id)

	w.WriteHeader(http.StatusNoContent)
}

// UpdatePolicy handles PATCH /v1/agents/{id}/policy. The merge runs in the
// journal critical section so it cannot interleave with a payment decision.
func (h *agentsHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var input agent.UpdatePolicyInput
	if err := readJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	var updated *agent.Agent
	err := h.journal.Exec(func(tx *ledger.Tx) error {
		a, ok := tx.Agent(id)
		if !ok {
			return agent.ErrNotFound
		}
		a.Policy = a.Policy.Merge(input)
		if err := a.Policy.Validate(); err != nil {
			return err
		}
		var err error
		updated, err = tx.SaveAgent(a)
		return err
	})
	switch {
	case errors.Is(err, agent.ErrNotFound):
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	case errors.Is(err, agent.ErrInvalidPolicy):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update policy")
		return
	}

	auditLog(r, "update_policy", "agent", id, "paused", updated.Policy.Paused)

	writeJSON(w, http.StatusOK, newAgentResponse(updated))
}

type amountRequest struct {
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

// Fund handles POST /v1/agents/{id}/fund.
func (h *agentsHandler) Fund(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "fund", h.journal.RecordTopUp)
}

// Withdraw handles POST /v1/agents/{id}/withdraw.
func (h *agentsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "withdraw", h.journal.RecordWithdrawal)
}

func (h *agentsHandler) moveFunds(w http.ResponseWriter, r *http.Request, action string, record func(string, int64, string, string) (ledger.Entry, error)) {
	id := chi.URLParam(r, "id")

	var req amountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	ref := ledger.NewReference(action)
	if _, err := record(id, req.Amount, ref, req.Memo); err != nil {
		writeLedgerError(w, err)
		return
	}

	a, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}

	auditLog(r, action, "agent", id, "amount", req.Amount, "reference_id", ref)

	writeJSON(w, http.StatusOK, newWalletResponse(a.Wallet))
}

// GetWallet handles GET /v1/agents/{id}/wallet.
func (h *agentsHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	a, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, newWalletResponse(a.Wallet))
}

// GetLedger handles GET /v1/agents/{id}/ledger.
func (h *agentsHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries := h.journal.EntriesForAgent(id)
	if len(entries) == 0 && !h.store.Exists(id) {
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", "agent not found")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": id,
		"entries":  entries,
	})
}

// writeLedgerError maps journal sentinel errors onto HTTP responses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, ledger.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "AGENT_NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "INSUFFICIENT_FUNDS", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "ledger operation failed")
	}
}
