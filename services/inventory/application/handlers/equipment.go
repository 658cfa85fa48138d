package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ghuser/toolcrib/pkg/errhttp"
	"github.com/ghuser/toolcrib/pkg/httpx"
	pkgvalidator "github.com/ghuser/toolcrib/pkg/validator"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

// CreateEquipmentRequest is the request body for POST /equipment.
type CreateEquipmentRequest struct {
	Name          string `json:"name"          validate:"notblank,max=255" example:"Cordless drill"`
	Category      string `json:"category"      validate:"max=100" example:"power tools"`
	Location      string `json:"location"      validate:"max=255" example:"Shelf B2"`
	Unit          string `json:"unit"          validate:"max=32" example:"pcs"`
	Kind          string `json:"kind"          validate:"required,oneof=borrowable consumable" example:"borrowable"`
	TotalQuantity *int   `json:"totalQuantity" validate:"required,gte=0" example:"5"`
	MinStock      int    `json:"minStock"      validate:"gte=0" example:"0"`
} // @name CreateEquipmentRequest

// UpdateEquipmentRequest is the request body for PUT /equipment/{id}.
// Omitted fields keep their current value.
type UpdateEquipmentRequest struct {
	Name          *string `json:"name"          validate:"omitempty,notblank,max=255"`
	Category      *string `json:"category"      validate:"omitempty,max=100"`
	Location      *string `json:"location"      validate:"omitempty,max=255"`
	Unit          *string `json:"unit"          validate:"omitempty,max=32"`
	Kind          *string `json:"kind"          validate:"omitempty,oneof=borrowable consumable"`
	TotalQuantity *int    `json:"totalQuantity" validate:"omitempty,gte=0"`
	MinStock      *int    `json:"minStock"      validate:"omitempty,gte=0"`
	Status        *string `json:"status"        validate:"omitempty,oneof=available low_stock out_of_stock in_use maintenance"`
} // @name UpdateEquipmentRequest

// EquipmentEnvelope wraps a single item in the success envelope.
type EquipmentEnvelope struct {
	Success   bool              `json:"success" example:"true"`
	Message   string            `json:"message" example:"equipment created"`
	Equipment EquipmentResponse `json:"equipment"`
} // @name EquipmentEnvelope

// EquipmentListResponse is one page of items.
type EquipmentListResponse struct {
	Success bool                `json:"success" example:"true"`
	Items   []EquipmentResponse `json:"items"`
	Total   int                 `json:"total"  example:"42"`
	Limit   int                 `json:"limit"  example:"20"`
	Offset  int                 `json:"offset" example:"0"`
} // @name EquipmentListResponse

// EquipmentHandler serves the /equipment resource.
type EquipmentHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewEquipmentHandler returns an EquipmentHandler backed by the given services.
func NewEquipmentHandler(svc *appsvcs.Services, production bool) *EquipmentHandler {
	return &EquipmentHandler{svc: svc, production: production}
}

// List returns a filtered page of items ordered by name.
//
//	@Summary	List equipment
//	@Tags		equipment
//	@Produce	json
//	@Param		kind		query		string	false	"borrowable or consumable"
//	@Param		status		query		string	false	"Status filter"
//	@Param		category	query		string	false	"Category filter"
//	@Param		q			query		string	false	"Case-insensitive name search"
//	@Param		limit		query		int		false	"Page size (default 20, max 100)"
//	@Param		offset		query		int		false	"Records to skip"
//	@Success	200			{object}	EquipmentListResponse
//	@Failure	400			{object}	ErrorResponse
//	@Router		/equipment [get]
func (h *EquipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := pageOpts(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := repositories.EquipmentFilter{
		Kind:      models.Kind(q.Get("kind")),
		Status:    models.Status(q.Get("status")),
		Category:  q.Get("category"),
		Search:    q.Get("q"),
		QueryOpts: appsvcs.NormalizePage(page),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		httpx.JSONError(w, http.StatusBadRequest, "unknown kind "+string(f.Kind))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		httpx.JSONError(w, http.StatusBadRequest, "unknown status "+string(f.Status))
		return
	}

	items, total, err := h.svc.Equipment.List(r.Context(), f)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	resp := EquipmentListResponse{
		Success: true,
		Items:   make([]EquipmentResponse, len(items)),
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
	for i, eq := range items {
		resp.Items[i] = toEquipmentResponse(eq)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// Get returns one item.
//
//	@Summary	Get equipment
//	@Tags		equipment
//	@Produce	json
//	@Param		id	path		string	true	"Equipment ID"
//	@Success	200	{object}	EquipmentEnvelope
//	@Failure	400	{object}	ErrorResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/equipment/{id} [get]
func (h *EquipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, chi.URLParam(r, "id"), "equipment")
	if !ok {
		return
	}
	eq, err := h.svc.Equipment.Get(r.Context(), id)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusOK, EquipmentEnvelope{Success: true, Message: "ok", Equipment: toEquipmentResponse(eq)})
}

// Create adds an item with every unit available.
//
//	@Summary	Create equipment
//	@Tags		equipment
//	@Accept		json
//	@Produce	json
//	@Param		request	body		CreateEquipmentRequest	true	"New item"
//	@Success	201		{object}	EquipmentEnvelope
//	@Failure	401		{object}	ErrorResponse
//	@Failure	403		{object}	ErrorResponse
//	@Failure	422		{object}	ErrorResponse
//	@Router		/equipment [post]
func (h *EquipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := pkgvalidator.ValidateRequest[CreateEquipmentRequest](w, r)
	if !ok {
		return
	}
	eq, err := h.svc.Equipment.Create(r.Context(), models.EquipmentParams{
		Name:          req.Name,
		Category:      req.Category,
		Location:      req.Location,
		Unit:          req.Unit,
		Kind:          models.Kind(req.Kind),
		TotalQuantity: *req.TotalQuantity,
		MinStock:      req.MinStock,
	})
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusCreated, EquipmentEnvelope{Success: true, Message: "equipment created", Equipment: toEquipmentResponse(eq)})
}

// Update changes an item. Resizing keeps the units currently on loan.
//
//	@Summary		Update equipment
//	@Description	Kind is immutable. Consumable totals may only shrink. in_use and maintenance are manual statuses for borrowable items.
//	@Tags			equipment
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Equipment ID"
//	@Param			request	body		UpdateEquipmentRequest	true	"Fields to change"
//	@Success		200		{object}	EquipmentEnvelope
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/equipment/{id} [put]
func (h *EquipmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, chi.URLParam(r, "id"), "equipment")
	if !ok {
		return
	}
	req, ok := pkgvalidator.ValidateRequest[UpdateEquipmentRequest](w, r)
	if !ok {
		return
	}

	cmd := appsvcs.UpdateEquipmentCommand{
		Name:          req.Name,
		Category:      trimmed(req.Category),
		Location:      trimmed(req.Location),
		Unit:          trimmed(req.Unit),
		TotalQuantity: req.TotalQuantity,
		MinStock:      req.MinStock,
	}
	if req.Kind != nil {
		k := models.Kind(*req.Kind)
		cmd.Kind = &k
	}
	if req.Status != nil {
		s := models.Status(*req.Status)
		cmd.Status = &s
	}

	eq, err := h.svc.Equipment.Update(r.Context(), id, cmd)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusOK, EquipmentEnvelope{Success: true, Message: "equipment updated", Equipment: toEquipmentResponse(eq)})
}

// Delete removes an item that has no active loans.
//
//	@Summary	Delete equipment
//	@Tags		equipment
//	@Produce	json
//	@Param		id	path		string	true	"Equipment ID"
//	@Success	200	{object}	MessageResponse
//	@Failure	404	{object}	ErrorResponse
//	@Failure	409	{object}	ErrorResponse
//	@Router		/equipment/{id} [delete]
func (h *EquipmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, chi.URLParam(r, "id"), "equipment")
	if !ok {
		return
	}
	if err := h.svc.Equipment.Delete(r.Context(), id); err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}
	httpx.JSON(w, http.StatusOK, MessageResponse{Success: true, Message: "equipment deleted"})
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
