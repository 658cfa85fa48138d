package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/auth"
	"github.com/ghuser/toolcrib/pkg/errhttp"
	"github.com/ghuser/toolcrib/pkg/httpx"
	pkgvalidator "github.com/ghuser/toolcrib/pkg/validator"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
)

// BorrowRequest is the request body for POST /inventory/borrow.
// userId may be omitted when the caller has a session.
type BorrowRequest struct {
	UserID             string      `json:"userId"      validate:"max=255" example:"u-1042"`
	UserName           string      `json:"userName"    validate:"max=255" example:"Dana Reyes"`
	EquipmentID        string      `json:"equipmentId" validate:"required,uuid" example:"123e4567-e89b-12d3-a456-426614174000"`
	Quantity           json.Number `json:"quantity"    swaggertype:"integer" example:"1"`
	Purpose            string      `json:"purpose"     validate:"max=500" example:"Site visit"`
	ExpectedReturnTime *time.Time  `json:"expectedReturnTime" example:"2024-01-20T17:00:00Z"`
} // @name BorrowRequest

// BorrowResponse is returned on a successful borrow.
type BorrowResponse struct {
	Success   bool              `json:"success" example:"true"`
	Message   string            `json:"message" example:"borrowed 1 pcs of Cordless drill"`
	UsageID   uuid.UUID         `json:"usageId"`
	Equipment EquipmentResponse `json:"equipment"`
} // @name BorrowResponse

// WithdrawRequest is the request body for POST /inventory/withdraw.
type WithdrawRequest struct {
	UserID       string      `json:"userId"       validate:"max=255" example:"u-1042"`
	UserName     string      `json:"userName"     validate:"max=255" example:"Dana Reyes"`
	EquipmentID  string      `json:"equipmentId"  validate:"required,uuid" example:"123e4567-e89b-12d3-a456-426614174000"`
	Quantity     json.Number `json:"quantity"     swaggertype:"integer" example:"2"`
	Purpose      string      `json:"purpose"      validate:"max=500" example:"Cable run"`
	JobReference string      `json:"jobReference" validate:"max=100" example:"JOB-2231"`
} // @name WithdrawRequest

// WithdrawResponse is returned on a successful withdraw. remaining is the
// item's total quantity after the withdraw.
type WithdrawResponse struct {
	Success   bool              `json:"success" example:"true"`
	Message   string            `json:"message" example:"withdrew 2 roll of Duct tape"`
	UsageID   uuid.UUID         `json:"usageId"`
	Remaining int               `json:"remaining" example:"8"`
	Equipment EquipmentResponse `json:"equipment"`
} // @name WithdrawResponse

// ReturnRequest is the request body for POST /inventory/return.
// Omitting returnQuantity returns the full borrowed quantity.
type ReturnRequest struct {
	UsageID        string       `json:"usageId" validate:"required,uuid" example:"3f2504e0-4f89-11d3-9a0c-0305e82c3301"`
	ReturnQuantity *json.Number `json:"returnQuantity" swaggertype:"integer" example:"1"`
	Note           string       `json:"note" validate:"max=500" example:"Battery worn"`
} // @name ReturnRequest

// ReturnResponse is returned on a successful return.
type ReturnResponse struct {
	Success          bool              `json:"success" example:"true"`
	Message          string            `json:"message" example:"returned 1 pcs of Cordless drill"`
	ReturnedQuantity int               `json:"returnedQuantity" example:"1"`
	Usage            UsageResponse     `json:"usage"`
	Equipment        EquipmentResponse `json:"equipment"`
} // @name ReturnResponse

// PostBorrowHandler handles POST /inventory/borrow requests.
type PostBorrowHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewPostBorrowHandler returns a PostBorrowHandler backed by the given services.
func NewPostBorrowHandler(svc *appsvcs.Services, production bool) *PostBorrowHandler {
	return &PostBorrowHandler{svc: svc, production: production}
}

// Execute borrows units of a borrowable item.
//
//	@Summary		Borrow equipment
//	@Description	Reserves units of a borrowable item for a user until they are returned
//	@Tags			inventory
//	@Accept			json
//	@Produce		json
//	@Param			Idempotency-Key	header		string			false	"Client key; a replay is rejected with 409"
//	@Param			request			body		BorrowRequest	true	"Borrow request"
//	@Success		201				{object}	BorrowResponse
//	@Failure		400				{object}	ErrorResponse
//	@Failure		404				{object}	ErrorResponse
//	@Failure		409				{object}	ErrorResponse
//	@Failure		422				{object}	ErrorResponse
//	@Router			/inventory/borrow [post]
func (h *PostBorrowHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := pkgvalidator.ValidateRequest[BorrowRequest](w, r)
	if !ok {
		return
	}
	qty, err := models.ParseQuantity(req.Quantity.String())
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}

	res, err := h.svc.Reservation.Borrow(r.Context(), appsvcs.BorrowCommand{
		EquipmentID:      uuid.MustParse(req.EquipmentID),
		Actor:            actorFrom(r, req.UserID, req.UserName),
		Quantity:         qty,
		Purpose:          strings.TrimSpace(req.Purpose),
		ExpectedReturnAt: utcPtr(req.ExpectedReturnTime),
	})
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}

	httpx.JSON(w, http.StatusCreated, BorrowResponse{
		Success:   true,
		Message:   quantityMessage("borrowed", qty, res.Equipment),
		UsageID:   res.Usage.ID,
		Equipment: toEquipmentResponse(res.Equipment),
	})
}

// PostWithdrawHandler handles POST /inventory/withdraw requests.
type PostWithdrawHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewPostWithdrawHandler returns a PostWithdrawHandler backed by the given services.
func NewPostWithdrawHandler(svc *appsvcs.Services, production bool) *PostWithdrawHandler {
	return &PostWithdrawHandler{svc: svc, production: production}
}

// Execute consumes units of a consumable item.
//
//	@Summary		Withdraw consumable
//	@Description	Permanently removes units of a consumable item from stock
//	@Tags			inventory
//	@Accept			json
//	@Produce		json
//	@Param			Idempotency-Key	header		string			false	"Client key; a replay is rejected with 409"
//	@Param			request			body		WithdrawRequest	true	"Withdraw request"
//	@Success		201				{object}	WithdrawResponse
//	@Failure		400				{object}	ErrorResponse
//	@Failure		404				{object}	ErrorResponse
//	@Failure		409				{object}	ErrorResponse
//	@Failure		422				{object}	ErrorResponse
//	@Router			/inventory/withdraw [post]
func (h *PostWithdrawHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := pkgvalidator.ValidateRequest[WithdrawRequest](w, r)
	if !ok {
		return
	}
	qty, err := models.ParseQuantity(req.Quantity.String())
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}

	res, err := h.svc.Reservation.Withdraw(r.Context(), appsvcs.WithdrawCommand{
		EquipmentID:  uuid.MustParse(req.EquipmentID),
		Actor:        actorFrom(r, req.UserID, req.UserName),
		Quantity:     qty,
		Purpose:      strings.TrimSpace(req.Purpose),
		JobReference: strings.TrimSpace(req.JobReference),
	})
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}

	httpx.JSON(w, http.StatusCreated, WithdrawResponse{
		Success:   true,
		Message:   quantityMessage("withdrew", qty, res.Equipment),
		UsageID:   res.Usage.ID,
		Remaining: res.Remaining,
		Equipment: toEquipmentResponse(res.Equipment),
	})
}

// PostReturnHandler handles POST /inventory/return requests.
type PostReturnHandler struct {
	svc        *appsvcs.Services
	production bool
}

// NewPostReturnHandler returns a PostReturnHandler backed by the given services.
func NewPostReturnHandler(svc *appsvcs.Services, production bool) *PostReturnHandler {
	return &PostReturnHandler{svc: svc, production: production}
}

// Execute closes an active borrow.
//
//	@Summary		Return equipment
//	@Description	Closes an active borrow and puts the returned units back in stock
//	@Tags			inventory
//	@Accept			json
//	@Produce		json
//	@Param			Idempotency-Key	header		string			false	"Client key; a replay is rejected with 409"
//	@Param			request			body		ReturnRequest	true	"Return request"
//	@Success		200				{object}	ReturnResponse
//	@Failure		400				{object}	ErrorResponse
//	@Failure		404				{object}	ErrorResponse
//	@Failure		409				{object}	ErrorResponse
//	@Failure		422				{object}	ErrorResponse
//	@Router			/inventory/return [post]
func (h *PostReturnHandler) Execute(w http.ResponseWriter, r *http.Request) {
	req, ok := pkgvalidator.ValidateRequest[ReturnRequest](w, r)
	if !ok {
		return
	}

	cmd := appsvcs.ReturnCommand{
		UsageID: uuid.MustParse(req.UsageID),
		Note:    strings.TrimSpace(req.Note),
	}
	if req.ReturnQuantity != nil {
		qty, err := models.ParseQuantity(req.ReturnQuantity.String())
		if err != nil {
			errhttp.WriteSafeError(w, err, h.production)
			return
		}
		cmd.Quantity = &qty
	}

	res, err := h.svc.Reservation.Return(r.Context(), cmd)
	if err != nil {
		errhttp.WriteSafeError(w, err, h.production)
		return
	}

	httpx.JSON(w, http.StatusOK, ReturnResponse{
		Success:          true,
		Message:          quantityMessage("returned", res.Returned, res.Equipment),
		ReturnedQuantity: res.Returned,
		Usage:            toUsageResponse(res.Usage),
		Equipment:        toEquipmentResponse(res.Equipment),
	})
}

// actorFrom takes the user from the request body and falls back to the
// session user when the body names nobody.
func actorFrom(r *http.Request, userID, userName string) models.Actor {
	a := models.Actor{UserID: strings.TrimSpace(userID), UserName: strings.TrimSpace(userName)}
	u, err := auth.UserFromCtx(r.Context())
	if err != nil {
		return a
	}
	if a.UserID == "" {
		a.UserID = u.ID
	}
	if a.UserName == "" && a.UserID == u.ID {
		a.UserName = u.Name
	}
	return a
}

func quantityMessage(verb string, qty int, eq *models.Equipment) string {
	if eq.Unit == "" {
		return fmt.Sprintf("%s %d of %s", verb, qty, eq.Name)
	}
	return fmt.Sprintf("%s %d %s of %s", verb, qty, eq.Unit, eq.Name)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
