package api

import (
	"net/http"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

// LoginHandler exchanges a debtor id or phone plus password for a session token.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "login", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetAccountHandler returns the authenticated debtor's account summary.
func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	debtorID, ok := GetDebtorID(r.Context())
	if !ok {
		http.Error(w, "Could not get debtor ID from context", http.StatusInternalServerError)
		return
	}
	summary, err := h.service.GetAccountSummary(r.Context(), debtorID)
	if err != nil {
		h.writeServiceError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}
