package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/toolcrib/pkg/httpx"
	"github.com/ghuser/toolcrib/services/inventory/domain/models"
	"github.com/ghuser/toolcrib/services/inventory/domain/repositories"
)

// ErrorResponse is returned on all error responses.
type ErrorResponse struct {
	Error string `json:"error" example:"insufficient stock: requested 3, available 1"`
	Kind  string `json:"kind,omitempty" example:"InsufficientStock"`
} // @name ErrorResponse

// MessageResponse is returned by mutations that carry no payload.
type MessageResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message" example:"equipment deleted"`
} // @name MessageResponse

// EquipmentResponse is the wire form of an equipment item.
type EquipmentResponse struct {
	ID                uuid.UUID `json:"id"                example:"123e4567-e89b-12d3-a456-426614174000"`
	Name              string    `json:"name"              example:"Cordless drill"`
	Category          string    `json:"category"          example:"power tools"`
	Location          string    `json:"location"          example:"Shelf B2"`
	Unit              string    `json:"unit"              example:"pcs"`
	Kind              string    `json:"kind"              example:"borrowable"`
	TotalQuantity     int       `json:"totalQuantity"     example:"5"`
	AvailableQuantity int       `json:"availableQuantity" example:"3"`
	MinStock          int       `json:"minStock"          example:"0"`
	Status            string    `json:"status"            example:"available"`
	CreatedAt         time.Time `json:"createdAt"         example:"2024-01-15T10:30:00Z"`
	UpdatedAt         time.Time `json:"updatedAt"         example:"2024-01-15T10:30:00Z"`
} // @name EquipmentResponse

// UsageResponse is the wire form of a usage ledger entry.
type UsageResponse struct {
	ID                 uuid.UUID  `json:"id"`
	EquipmentID        uuid.UUID  `json:"equipmentId"`
	EquipmentName      string     `json:"equipmentName"`
	UserID             string     `json:"userId"`
	UserName           string     `json:"userName"`
	Operation          string     `json:"operation" example:"borrow"`
	Quantity           int        `json:"quantity"  example:"1"`
	State              string     `json:"state"     example:"active"`
	Purpose            string     `json:"purpose,omitempty"`
	JobReference       string     `json:"jobReference,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpectedReturnTime *time.Time `json:"expectedReturnTime,omitempty"`
	ReturnedTime       *time.Time `json:"returnedTime,omitempty"`
	ReturnQuantity     int        `json:"returnQuantity,omitempty"`
	Note               string     `json:"note,omitempty"`
} // @name UsageResponse

// LoanGroupResponse is one user's outstanding loans.
type LoanGroupResponse struct {
	UserID         string          `json:"userId"`
	UserName       string          `json:"userName"`
	Items          []UsageResponse `json:"items"`
	TotalQuantity  int             `json:"totalQuantity"`
	LastActiveTime *time.Time      `json:"lastActiveTime,omitempty"`
} // @name LoanGroupResponse

func toEquipmentResponse(eq *models.Equipment) EquipmentResponse {
	return EquipmentResponse{
		ID:                eq.ID,
		Name:              eq.Name,
		Category:          eq.Category,
		Location:          eq.Location,
		Unit:              eq.Unit,
		Kind:              string(eq.Kind),
		TotalQuantity:     eq.TotalQuantity,
		AvailableQuantity: eq.AvailableQuantity,
		MinStock:          eq.MinStock,
		Status:            string(eq.Status),
		CreatedAt:         eq.CreatedAt,
		UpdatedAt:         eq.UpdatedAt,
	}
}

func toUsageResponse(rec *models.UsageRecord) UsageResponse {
	return UsageResponse{
		ID:                 rec.ID,
		EquipmentID:        rec.EquipmentID,
		EquipmentName:      rec.EquipmentName,
		UserID:             rec.UserID,
		UserName:           rec.UserName,
		Operation:          string(rec.Operation),
		Quantity:           rec.Quantity,
		State:              string(rec.State),
		Purpose:            rec.Purpose,
		JobReference:       rec.JobReference,
		CreatedAt:          rec.CreatedAt,
		ExpectedReturnTime: rec.ExpectedReturnAt,
		ReturnedTime:       rec.ReturnedAt,
		ReturnQuantity:     rec.ReturnQuantity,
		Note:               rec.Note,
	}
}

func toLoanGroupResponse(g models.ActiveLoanGroup) LoanGroupResponse {
	items := make([]UsageResponse, len(g.Items))
	for i := range g.Items {
		items[i] = toUsageResponse(&g.Items[i])
	}
	resp := LoanGroupResponse{
		UserID:        g.UserID,
		UserName:      g.UserName,
		Items:         items,
		TotalQuantity: g.TotalQuantity(),
	}
	if !g.LastActiveAt.IsZero() {
		t := g.LastActiveAt
		resp.LastActiveTime = &t
	}
	return resp
}

// pathID parses the {name} URL parameter as a UUID, writing a 400 on failure.
func pathID(w http.ResponseWriter, raw, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// pageOpts reads limit and offset query parameters. Missing values are zero
// and are defaulted by the service.
func pageOpts(w http.ResponseWriter, r *http.Request) (repositories.QueryOpts, bool) {
	var opts repositories.QueryOpts
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, p.name+" must be an integer")
			return opts, false
		}
		*p.dst = n
	}
	return opts, true
}
