package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/toolcrib/pkg/errhttp"
	"github.com/ghuser/toolcrib/pkg/httpx"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
)

// ActiveLoansResponse lists every user holding equipment, most recently
// active first.
type ActiveLoansResponse struct {
	Success bool                `json:"success" example:"true"`
	Groups  []LoanGroupResponse `json:"groups"`
} // @name ActiveLoansResponse

// UserLoansResponse is one user's active loans.
type UserLoansResponse struct {
	Success bool              `json:"success" example:"true"`
	Group   LoanGroupResponse `json:"group"`
} // @name UserLoansResponse

// OverdueLoansResponse lists active loans past their expected return time.
type OverdueLoansResponse struct {
	Success bool            `json:"success" example:"true"`
	Items   []UsageResponse `json:"items"`
} // @name OverdueLoansResponse

// LoanHandler serves the /loans views.
type LoanHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewLoanHandler returns a LoanHandler backed by the given services.
func NewLoanHandler(svc *appsvcs.Services, production bool) *LoanHandler {
	return &LoanHandler{svc: svc, production: production}
}

// Active returns every user's active loans.
//
//	@Summary	Active loans by user
//	@Tags		loans
//	@Produce	json
//	@Success	200	{object}	ActiveLoansResponse
//	@Router		/loans/active [get]
func (h *LoanHandler) Active(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ActiveLoans.Groups(r.Context())
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	resp := ActiveLoansResponse{Success: true, Groups: make([]LoanGroupResponse, len(groups))}
	for i, g := range groups {
		resp.Groups[i] = toLoanGroupResponse(g)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// ForUser returns one user's active loans. A user with none gets an empty group.
//
//	@Summary	Active loans of one user
//	@Tags		loans
//	@Produce	json
//	@Param		userId	path		string	true	"User ID"
//	@Success	200		{object}	UserLoansResponse
//	@Router		/loans/active/{userId} [get]
func (h *LoanHandler) ForUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		httpx.JSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	g, err := h.svc.ActiveLoans.ForUser(r.Context(), userID)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusOK, UserLoansResponse{Success: true, Group: toLoanGroupResponse(*g)})
}

// Overdue returns active loans past their expected return time, oldest first.
//
//	@Summary	Overdue loans
//	@Tags		loans
//	@Produce	json
//	@Success	200	{object}	OverdueLoansResponse
//	@Router		/loans/overdue [get]
func (h *LoanHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.ActiveLoans.Overdue(r.Context())
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	resp := OverdueLoansResponse{Success: true, Items: make([]UsageResponse, len(recs))}
	for i, rec := range recs {
		resp.Items[i] = toUsageResponse(rec)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// ExportCSV streams every active loan as CSV, read from the ledger.
//
//	@Summary	Export active loans
//	@Tags		loans
//	@Produce	text/csv
//	@Success	200	{string}	string	"CSV with a header row"
//	@Failure	500	{object}	ErrorResponse
//	@Router		/loans/active.csv [get]
func (h *LoanHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.svc.ActiveLoans.ExportCSV(r.Context(), &buf); err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="active-loans.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
