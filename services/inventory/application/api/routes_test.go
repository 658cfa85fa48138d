package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/ghuser/toolcrib/pkg/app"
	"github.com/ghuser/toolcrib/pkg/auth"
	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/logger"
	"github.com/ghuser/toolcrib/services/inventory/application/handlers"
	appsvcs "github.com/ghuser/toolcrib/services/inventory/application/services"
	"github.com/ghuser/toolcrib/services/inventory/infrastructure/persistence/memory"
)

type testAPI struct {
	router http.Handler
	store  *memory.Store
}

func newTestAPI(t *testing.T, cfg *config.Config, store sessions.Store) *testAPI {
	t.Helper()
	log := logger.Nop()
	mem := memory.NewStore()
	equipment := appsvcs.NewEquipmentService(mem.Equipment(), nil, log)
	svcs := &appsvcs.Services{
		Equipment: equipment,
		Usage:     appsvcs.NewUsageService(mem.Usage()),
		Reservation: appsvcs.NewReservationService(mem, nil, equipment,
			appsvcs.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, log),
		ActiveLoans: appsvcs.NewActiveLoanService(mem.Usage(), nil, equipment, nil, log),
	}
	if cfg == nil {
		cfg = &config.Config{Environment: config.EnvTesting}
	}
	a := &app.Application{Config: cfg, Logger: log, SessionStore: store}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		InventoryRoutes(r, a, svcs)
	})
	return &testAPI{router: r, store: mem}
}

func (api *testAPI) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, rr.Body.String())
	}
	return v
}

func (api *testAPI) createEquipment(t *testing.T, body map[string]any) handlers.EquipmentResponse {
	t.Helper()
	rr := api.do(t, http.MethodPost, "/api/equipment", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create equipment: status %d, body %s", rr.Code, rr.Body.String())
	}
	return decode[handlers.EquipmentEnvelope](t, rr).Equipment
}

func TestBorrowReturnFlow(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 2, "unit": "pcs"})

	rr := api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{
		"userId": "u1", "userName": "Una", "equipmentId": drill.ID, "quantity": 2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("borrow: status %d, body %s", rr.Code, rr.Body.String())
	}
	borrowed := decode[handlers.BorrowResponse](t, rr)
	if !borrowed.Success || borrowed.Equipment.AvailableQuantity != 0 || borrowed.Equipment.Status != "out_of_stock" {
		t.Fatalf("borrow response = %+v", borrowed)
	}
	if borrowed.Message != "borrowed 2 pcs of Drill" {
		t.Fatalf("message = %q", borrowed.Message)
	}

	rr = api.do(t, http.MethodGet, "/api/loans/active", nil)
	groups := decode[handlers.ActiveLoansResponse](t, rr).Groups
	if len(groups) != 1 || groups[0].UserID != "u1" || groups[0].TotalQuantity != 2 {
		t.Fatalf("active loans = %+v", groups)
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": borrowed.UsageID, "note": "ok"})
	if rr.Code != http.StatusOK {
		t.Fatalf("return: status %d, body %s", rr.Code, rr.Body.String())
	}
	returned := decode[handlers.ReturnResponse](t, rr)
	if returned.ReturnedQuantity != 2 || returned.Equipment.AvailableQuantity != 2 || returned.Equipment.Status != "available" {
		t.Fatalf("return response = %+v", returned)
	}
	if returned.Usage.State != "returned" || returned.Usage.Note != "ok" || returned.Usage.ReturnedTime == nil {
		t.Fatalf("returned usage = %+v", returned.Usage)
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": borrowed.UsageID})
	if rr.Code != http.StatusBadRequest || decode[handlers.ErrorResponse](t, rr).Kind != "AlreadyReturned" {
		t.Fatalf("second return: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodGet, "/api/loans/active/u1", nil)
	if g := decode[handlers.UserLoansResponse](t, rr).Group; g.UserID != "u1" || len(g.Items) != 0 {
		t.Fatalf("user loans after return = %+v", g)
	}
}

func TestWithdrawFlow(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	tape := api.createEquipment(t, map[string]any{"name": "Tape", "kind": "consumable", "totalQuantity": 10, "minStock": 3, "unit": "roll"})

	rr := api.do(t, http.MethodPost, "/api/inventory/withdraw", map[string]any{
		"userId": "u1", "equipmentId": tape.ID, "quantity": "7.0", "jobReference": "JOB-1",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("withdraw: status %d, body %s", rr.Code, rr.Body.String())
	}
	res := decode[handlers.WithdrawResponse](t, rr)
	if res.Remaining != 3 || res.Equipment.Status != "low_stock" {
		t.Fatalf("withdraw response = %+v", res)
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/withdraw", map[string]any{
		"userId": "u1", "equipmentId": tape.ID, "quantity": 4,
	})
	if rr.Code != http.StatusBadRequest || decode[handlers.ErrorResponse](t, rr).Kind != "InsufficientStock" {
		t.Fatalf("over-withdraw: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": res.UsageID})
	if rr.Code != http.StatusBadRequest || decode[handlers.ErrorResponse](t, rr).Kind != "WrongOperation" {
		t.Fatalf("return of withdraw: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodGet, "/api/usage?operation=withdraw&userId=u1", nil)
	list := decode[handlers.UsageListResponse](t, rr)
	if list.Total != 1 || list.Items[0].JobReference != "JOB-1" || list.Items[0].State != "completed" {
		t.Fatalf("usage list = %+v", list)
	}
}

func TestReservationErrors(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 1})
	tape := api.createEquipment(t, map[string]any{"name": "Tape", "kind": "consumable", "totalQuantity": 5})

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantKind   string
	}{
		{"malformed json", "/api/inventory/borrow", "{", http.StatusBadRequest, ""},
		{"missing equipment id", "/api/inventory/borrow", map[string]any{"userId": "u1", "quantity": 1}, http.StatusUnprocessableEntity, ""},
		{"fractional quantity", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 1.5}, http.StatusBadRequest, "InvalidQuantity"},
		{"zero quantity", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 0}, http.StatusBadRequest, "InvalidQuantity"},
		{"missing quantity", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID}, http.StatusBadRequest, "InvalidQuantity"},
		{"missing user", "/api/inventory/borrow", map[string]any{"equipmentId": drill.ID, "quantity": 1}, http.StatusBadRequest, "MissingUser"},
		{"unknown equipment", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": "00000000-0000-4000-8000-000000000000", "quantity": 1}, http.StatusNotFound, "NotFound"},
		{"borrow consumable", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": tape.ID, "quantity": 1}, http.StatusBadRequest, "WrongKind"},
		{"borrow too many", "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 2}, http.StatusBadRequest, "InsufficientStock"},
		{"withdraw borrowable", "/api/inventory/withdraw", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 1}, http.StatusBadRequest, "WrongKind"},
		{"unknown usage", "/api/inventory/return", map[string]any{"usageId": "00000000-0000-4000-8000-000000000000"}, http.StatusNotFound, "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, http.MethodPost, tt.path, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantKind != "" {
				if got := decode[handlers.ErrorResponse](t, rr).Kind; got != tt.wantKind {
					t.Fatalf("kind = %q, want %q", got, tt.wantKind)
				}
			}
		})
	}

	// None of the failures touched stock.
	rr := api.do(t, http.MethodGet, "/api/equipment/"+drill.ID.String(), nil)
	if eq := decode[handlers.EquipmentEnvelope](t, rr).Equipment; eq.AvailableQuantity != 1 {
		t.Fatalf("drill available = %d, want 1", eq.AvailableQuantity)
	}
}

func TestReturnQuantityRules(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 5})
	rr := api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 3})
	usageID := decode[handlers.BorrowResponse](t, rr).UsageID

	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": usageID, "returnQuantity": 4})
	if rr.Code != http.StatusBadRequest || decode[handlers.ErrorResponse](t, rr).Kind != "OverReturn" {
		t.Fatalf("over-return: status %d, body %s", rr.Code, rr.Body.String())
	}
	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": usageID, "returnQuantity": 0})
	if rr.Code != http.StatusBadRequest || decode[handlers.ErrorResponse](t, rr).Kind != "InvalidQuantity" {
		t.Fatalf("zero return: status %d, body %s", rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": usageID, "returnQuantity": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("partial return: status %d, body %s", rr.Code, rr.Body.String())
	}
	res := decode[handlers.ReturnResponse](t, rr)
	if res.ReturnedQuantity != 2 || res.Usage.ReturnQuantity != 2 || res.Equipment.AvailableQuantity != 4 {
		t.Fatalf("partial return response = %+v", res)
	}
}

func TestEquipmentCRUD(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": " Drill ", "kind": "borrowable", "totalQuantity": 3, "category": "power"})
	if drill.Name != "Drill" || drill.AvailableQuantity != 3 || drill.Status != "available" {
		t.Fatalf("created = %+v", drill)
	}
	api.createEquipment(t, map[string]any{"name": "Saw", "kind": "borrowable", "totalQuantity": 1, "category": "hand"})

	rr := api.do(t, http.MethodPost, "/api/equipment", map[string]any{"name": "  ", "kind": "borrowable", "totalQuantity": 1})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("blank name: status %d", rr.Code)
	}
	rr = api.do(t, http.MethodPost, "/api/equipment", map[string]any{"name": "X", "kind": "rentable", "totalQuantity": 1})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad kind: status %d", rr.Code)
	}

	rr = api.do(t, http.MethodGet, "/api/equipment?category=power&limit=500", nil)
	list := decode[handlers.EquipmentListResponse](t, rr)
	if list.Total != 1 || list.Items[0].ID != drill.ID || list.Limit != appsvcs.MaxPageSize {
		t.Fatalf("list = %+v", list)
	}
	if rr := api.do(t, http.MethodGet, "/api/equipment?limit=abc", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/equipment?kind=rentable", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad kind filter: status %d", rr.Code)
	}

	rr = api.do(t, http.MethodPut, "/api/equipment/"+drill.ID.String(), map[string]any{"totalQuantity": 5, "location": " B2 "})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rr.Code, rr.Body.String())
	}
	if eq := decode[handlers.EquipmentEnvelope](t, rr).Equipment; eq.TotalQuantity != 5 || eq.AvailableQuantity != 5 || eq.Location != "B2" {
		t.Fatalf("updated = %+v", eq)
	}
	rr = api.do(t, http.MethodPut, "/api/equipment/"+drill.ID.String(), map[string]any{"kind": "consumable"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("kind change: status %d", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 1})
	usageID := decode[handlers.BorrowResponse](t, rr).UsageID
	if rr := api.do(t, http.MethodDelete, "/api/equipment/"+drill.ID.String(), nil); rr.Code != http.StatusConflict {
		t.Fatalf("delete while loaned: status %d", rr.Code)
	}
	api.do(t, http.MethodPost, "/api/inventory/return", map[string]any{"usageId": usageID})
	if rr := api.do(t, http.MethodDelete, "/api/equipment/"+drill.ID.String(), nil); rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d, body %s", rr.Code, rr.Body.String())
	}
	if rr := api.do(t, http.MethodGet, "/api/equipment/"+drill.ID.String(), nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: status %d", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/equipment/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", rr.Code)
	}
}

func TestUsageEndpoints(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 5})
	for _, user := range []string{"u1", "u2", "u1"} {
		rr := api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{"userId": user, "equipmentId": drill.ID, "quantity": 1})
		if rr.Code != http.StatusCreated {
			t.Fatalf("borrow: %d", rr.Code)
		}
	}

	rr := api.do(t, http.MethodGet, "/api/usage?userId=u1&limit=1", nil)
	list := decode[handlers.UsageListResponse](t, rr)
	if list.Total != 2 || len(list.Items) != 1 || list.Limit != 1 {
		t.Fatalf("usage page = %+v", list)
	}

	rr = api.do(t, http.MethodGet, "/api/usage/"+list.Items[0].ID.String(), nil)
	if got := decode[handlers.UsageEnvelope](t, rr).Usage; got.ID != list.Items[0].ID || got.EquipmentName != "Drill" {
		t.Fatalf("usage get = %+v", got)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown state", "/api/usage?state=lost", http.StatusBadRequest},
		{"unknown operation", "/api/usage?operation=rent", http.StatusBadRequest},
		{"bad equipment id", "/api/usage?equipmentId=nope", http.StatusBadRequest},
		{"equipment filter", "/api/usage?equipmentId=" + drill.ID.String(), http.StatusOK},
		{"missing record", "/api/usage/00000000-0000-4000-8000-000000000000", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := api.do(t, http.MethodGet, tt.path, nil); rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestOverdueLoans(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	saw := api.createEquipment(t, map[string]any{"name": "Saw", "kind": "borrowable", "totalQuantity": 3})

	past := time.Now().Add(-2 * time.Hour).UTC()
	future := time.Now().Add(48 * time.Hour).UTC()
	for _, b := range []map[string]any{
		{"userId": "late", "equipmentId": saw.ID, "quantity": 1, "expectedReturnTime": past},
		{"userId": "early", "equipmentId": saw.ID, "quantity": 1, "expectedReturnTime": future},
		{"userId": "open", "equipmentId": saw.ID, "quantity": 1},
	} {
		if rr := api.do(t, http.MethodPost, "/api/inventory/borrow", b); rr.Code != http.StatusCreated {
			t.Fatalf("borrow: status %d, body %s", rr.Code, rr.Body.String())
		}
	}

	rr := api.do(t, http.MethodGet, "/api/loans/overdue", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("overdue: status %d, body %s", rr.Code, rr.Body.String())
	}
	items := decode[handlers.OverdueLoansResponse](t, rr).Items
	if len(items) != 1 || items[0].UserID != "late" || items[0].State != "active" {
		t.Fatalf("overdue items = %+v", items)
	}
}

func TestActiveLoansCSV(t *testing.T) {
	api := newTestAPI(t, nil, nil)
	drill := api.createEquipment(t, map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 5})
	api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{"userId": "u1", "equipmentId": drill.ID, "quantity": 2, "purpose": "fit-out"})

	rr := api.do(t, http.MethodGet, "/api/loans/active.csv", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	rows, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "u1" || rows[1][4] != "Drill" || rows[1][6] != "fit-out" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSessionUserAndAdminGate(t *testing.T) {
	store := sessions.NewCookieStore(
		[]byte("test-auth-key-must-be-32-bytes!!"),
		[]byte("test-enc-key-must-be-32-bytes!!!"),
	)
	cfg := &config.Config{Environment: config.EnvTesting, AuthEnabled: true}
	api := newTestAPI(t, cfg, store)

	login := func(u auth.User) []*http.Cookie {
		w := httptest.NewRecorder()
		if err := auth.SaveUser(w, httptest.NewRequest(http.MethodGet, "/", nil), store, u); err != nil {
			t.Fatal(err)
		}
		return w.Result().Cookies()
	}
	admin := login(auth.User{ID: "boss", Name: "Boss", Role: auth.RoleAdmin})
	member := login(auth.User{ID: "m1", Name: "Mel", Role: "member"})

	body := map[string]any{"name": "Drill", "kind": "borrowable", "totalQuantity": 2}
	if rr := api.do(t, http.MethodPost, "/api/equipment", body); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: status %d", rr.Code)
	}
	if rr := api.do(t, http.MethodPost, "/api/equipment", body, member...); rr.Code != http.StatusForbidden {
		t.Fatalf("member create: status %d", rr.Code)
	}
	rr := api.do(t, http.MethodPost, "/api/equipment", body, admin...)
	if rr.Code != http.StatusCreated {
		t.Fatalf("admin create: status %d, body %s", rr.Code, rr.Body.String())
	}
	drill := decode[handlers.EquipmentEnvelope](t, rr).Equipment

	// Reads stay open.
	if rr := api.do(t, http.MethodGet, "/api/equipment", nil); rr.Code != http.StatusOK {
		t.Fatalf("anonymous list: status %d", rr.Code)
	}

	// The session user borrows when the body names nobody.
	rr = api.do(t, http.MethodPost, "/api/inventory/borrow", map[string]any{"equipmentId": drill.ID, "quantity": 1}, member...)
	if rr.Code != http.StatusCreated {
		t.Fatalf("session borrow: status %d, body %s", rr.Code, rr.Body.String())
	}
	usageID := decode[handlers.BorrowResponse](t, rr).UsageID
	rr = api.do(t, http.MethodGet, "/api/usage/"+usageID.String(), nil)
	if u := decode[handlers.UsageEnvelope](t, rr).Usage; u.UserID != "m1" || u.UserName != "Mel" {
		t.Fatalf("usage user = %s/%s, want m1/Mel", u.UserID, u.UserName)
	}
}
