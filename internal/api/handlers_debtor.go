package api

import (
	"net/http"
	"strconv"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
	"github.com/go-chi/chi/v5"
)

type passwordResetRequest struct {
	Password string `json:"password"`
}

// CreateDebtorHandler opens a new debtor account.
func (h *Handlers) CreateDebtorHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDebtorRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := h.service.CreateDebtor(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_debtor", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

// ListDebtorsHandler returns every debtor with its computed status.
func (h *Handlers) ListDebtorsHandler(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListDebtors(r.Context())
	if err != nil {
		h.writeServiceError(w, "list_debtors", err)
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) GetDebtorHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetDebtor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get_debtor", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) UpdateDebtorHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateDebtorRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	view, err := h.service.UpdateDebtor(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, "update_debtor", err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) DeleteDebtorHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteDebtor(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, "delete_debtor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.service.ResetDebtorPassword(r.Context(), chi.URLParam(r, "id"), req.Password); err != nil {
		h.writeServiceError(w, "reset_password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ManualPaymentHandler records a cash payment entered by an operator.
func (h *Handlers) ManualPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ManualPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	txn, err := h.service.ApplyManualPayment(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Method, req.Reference)
	if err != nil {
		h.writeServiceError(w, "manual_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// ListTransactionsHandler returns a debtor's history, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}
	transactions, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}
