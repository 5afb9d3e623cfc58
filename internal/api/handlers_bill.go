package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/g-99215544-beep/pinjamanhutang/internal/app"
	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

// CreateBillHandler issues a gateway bill for the public payment page. Errors
// are plain text and answer 400, except rate limits and internal failures.
func (h *Handlers) CreateBillHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.BillRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.IssueBillRequest(r.Context(), req.DebtorID, req.AmountValue(), req.ReturnURL)
	if err != nil {
		var rateLimitErr *app.RateLimitError
		switch {
		case errors.As(err, &rateLimitErr):
			http.Error(w, err.Error(), statusForError(w, err))
		case errors.Is(err, app.ErrPersistence):
			log.Printf("level=error component=api endpoint=create_bill debtor_id=%s msg=\"bill request failed\" err=%v", req.DebtorID, err)
			http.Error(w, "Error", http.StatusInternalServerError)
		default:
			log.Printf("level=warn component=api endpoint=create_bill outcome=reject debtor_id=%s err=%v", req.DebtorID, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
