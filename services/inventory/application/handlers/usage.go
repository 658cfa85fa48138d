package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/errhttp"
	"github.com/ghuser/toolcrib/pkg/httpx"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

// UsageListResponse is one page of the usage history.
type UsageListResponse struct {
	Success bool            `json:"success" example:"true"`
	Items   []UsageResponse `json:"items"`
	Total   int             `json:"total"  example:"7"`
	Limit   int             `json:"limit"  example:"20"`
	Offset  int             `json:"offset" example:"0"`
} // @name UsageListResponse

// UsageEnvelope wraps a single ledger entry.
type UsageEnvelope struct {
	Success bool          `json:"success" example:"true"`
	Usage   UsageResponse `json:"usage"`
} // @name UsageEnvelope

// UsageHandler serves the read-only /usage resource.
type UsageHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewUsageHandler returns a UsageHandler backed by the given services.
func NewUsageHandler(svc *appsvcs.Services, production bool) *UsageHandler {
	return &UsageHandler{svc: svc, production: production}
}

// List returns a filtered page of the usage history, newest first.
//
//	@Summary	List usage history
//	@Tags		usage
//	@Produce	json
//	@Param		userId		query		string	false	"User filter"
//	@Param		equipmentId	query		string	false	"Equipment filter"
//	@Param		operation	query		string	false	"borrow or withdraw"
//	@Param		state		query		string	false	"active, returned or completed"
//	@Param		limit		query		int		false	"Page size (default 20, max 100)"
//	@Param		offset		query		int		false	"Records to skip"
//	@Success	200			{object}	UsageListResponse
//	@Failure	400			{object}	ErrorResponse
//	@Router		/usage [get]
func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOpts(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := repositories.UsageFilter{
		UserID:    q.Get("userId"),
		Operation: models.Operation(q.Get("operation")),
		State:     models.UsageState(q.Get("state")),
		QueryOpts: appsvcs.NormalizePage(page),
	}
	if raw := q.Get("equipmentId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid equipmentId")
			return
		}
		f.EquipmentID = id
	}
	switch f.Operation {
	case "", models.OperationBorrow, models.OperationWithdraw:
	default:
		httpx.JSONError(w, http.StatusBadRequest, "unknown operation "+string(f.Operation))
		return
	}
	switch f.State {
	case "", models.StateActive, models.StateReturned, models.StateCompleted:
	default:
		httpx.JSONError(w, http.StatusBadRequest, "unknown state "+string(f.State))
		return
	}

	recs, total, err := h.svc.Usage.List(r.Context(), f)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	resp := UsageListResponse{
		Success: true,
		Items:   make([]UsageResponse, len(recs)),
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
	for i, rec := range recs {
		resp.Items[i] = toUsageResponse(rec)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Get returns one ledger entry.
//
//	@Summary	Get usage record
//	@Tags		usage
//	@Produce	json
//	@Param		id	path		string	true	"Usage record ID"
//	@Success	200	{object}	UsageEnvelope
//	@Failure	400	{object}	ErrorResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/usage/{id} [get]
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, chi.URLParam(r, "id"), "usage")
	if !ok {
		return
	}
	rec, err := h.svc.Usage.Get(r.Context(), id)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusOK, UsageEnvelope{Success: true, Usage: toUsageResponse(rec)})
}
