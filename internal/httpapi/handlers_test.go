package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
	"fuelerp/backend/internal/service"
	"fuelerp/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded("station-main")
	svc := service.New(repo, nil, "station-main")
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*"), repo
}

// doJSON sends a JSON request through the full handler chain.
func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_ReturnsStationScope(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "",
		domain.LoginRequest{Username: "operator", Password: "operator123"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != domain.RoleOperator {
		t.Fatalf("unexpected login response %+v", resp)
	}
	if len(resp.StationIDs) != 1 || resp.StationIDs[0] != "station-main" {
		t.Fatalf("expected station-main scope, got %v", resp.StationIDs)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "",
		domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleTanks_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/tanks", "", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleTanks_ListsSeededTanks(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "operator", "operator123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/tanks", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Tanks []domain.Tank `json:"tanks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tanks) != 3 {
		t.Fatalf("expected 3 seeded tanks, got %d", len(body.Tanks))
	}
}

func TestPreValidateThenSubmitOverflow(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "operator", "operator123")
	csrf := fetchCSRFToken(t, api)

	// tank-pms-1 holds 18,500 of 30,000 L.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/deliveries/prevalidate", token, csrf, domain.PreValidateRequest{
		TankID:       "tank-pms-1",
		VolumeLiters: decimal.NewFromInt(12000),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("prevalidate expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var pre domain.PreValidateResponse
	if err := json.NewDecoder(rec.Body).Decode(&pre); err != nil {
		t.Fatalf("decode prevalidate: %v", err)
	}
	if pre.Decision != domain.DecisionProceedWithNewOverflow || !pre.OverflowAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected new overflow of 500 L, got %s %s", pre.Decision, pre.OverflowAmount)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/deliveries", token, csrf, domain.DeliverySubmitRequest{
		TankID:        "tank-pms-1",
		VolumeLiters:  decimal.NewFromInt(12000),
		CostPerLiter:  decimal.NewFromInt(4650),
		SupplierName:  "Kampala Fuels",
		InvoiceNumber: "INV-HTTP-1",
		DeliveryDate:  "2026-03-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var submitted domain.DeliverySubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if !submitted.OverflowCreated || submitted.Overflow == nil {
		t.Fatalf("expected overflow record, got %+v", submitted)
	}
	if !submitted.Delivery.VolumeLiters.Equal(decimal.NewFromInt(11500)) {
		t.Fatalf("expected 11,500 L into the tank, got %s", submitted.Delivery.VolumeLiters)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/tanks/tank-pms-1/overflow", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("eligible overflow expected 200, got %d", rec.Code)
	}
	var eligible struct {
		Overflow []domain.EligibleOverflow `json:"overflow"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&eligible); err != nil {
		t.Fatalf("decode eligible: %v", err)
	}
	if len(eligible.Overflow) != 1 || eligible.Overflow[0].OverflowID != submitted.Overflow.ID {
		t.Fatalf("expected the new reserve to be eligible, got %+v", eligible.Overflow)
	}
}

func TestSubmitDuplicateInvoiceReturnsConflict(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "operator", "operator123")
	csrf := fetchCSRFToken(t, api)

	req := domain.DeliverySubmitRequest{
		TankID:        "tank-bik-1",
		VolumeLiters:  decimal.NewFromInt(1000),
		CostPerLiter:  decimal.NewFromInt(3900),
		SupplierName:  "Kampala Fuels",
		InvoiceNumber: "INV-DUP",
		DeliveryDate:  "2026-03-01",
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/deliveries", token, csrf, req); rec.Code != http.StatusCreated {
		t.Fatalf("first submit expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req.InvoiceNumber = "inv-dup"
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/deliveries", token, csrf, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeErrorBody(t, rec); body["kind"] != "DUPLICATE_INVOICE" {
		t.Fatalf("expected DUPLICATE_INVOICE kind, got %v", body["kind"])
	}
}

func TestSubmitFuelMismatchReturnsBadRequest(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "operator", "operator123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/deliveries/prevalidate", token, csrf, domain.PreValidateRequest{
		TankID:       "tank-pms-1",
		VolumeLiters: decimal.NewFromInt(100),
		FuelType:     "diesel",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeErrorBody(t, rec); body["kind"] != "FUEL_TYPE_MISMATCH" {
		t.Fatalf("expected FUEL_TYPE_MISMATCH kind, got %v", body["kind"])
	}
}

func TestRTTOnFullTankReturnsUnprocessable(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "manager", "manager123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/deliveries", token, csrf, domain.DeliverySubmitRequest{
		TankID:        "tank-ago-1",
		VolumeLiters:  decimal.NewFromInt(5000),
		CostPerLiter:  decimal.NewFromInt(4400),
		SupplierName:  "Kampala Fuels",
		InvoiceNumber: "INV-AGO-1",
		DeliveryDate:  "2026-03-01",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var submitted domain.DeliverySubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if submitted.Overflow == nil {
		t.Fatalf("expected 1,000 L overflow on tank-ago-1")
	}
	rttPath := "/api/v1/overflow/" + submitted.Overflow.ID + "/rtt"

	rec = doJSON(t, handler, http.MethodPost, rttPath, token, csrf, domain.RTTRequest{ReturnVolumeLiters: decimal.NewFromInt(200)})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on full tank, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeErrorBody(t, rec); body["kind"] != "TANK_FULL" {
		t.Fatalf("expected TANK_FULL kind, got %v", body["kind"])
	}

	if err := repo.SetTankVolume("tank-ago-1", decimal.NewFromInt(24000)); err != nil {
		t.Fatalf("dispense: %v", err)
	}
	rec = doJSON(t, handler, http.MethodPost, rttPath, token, csrf, domain.RTTRequest{ReturnVolumeLiters: decimal.NewFromInt(200)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after dispensing, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var rtt domain.RTTResponse
	if err := json.NewDecoder(rec.Body).Decode(&rtt); err != nil {
		t.Fatalf("decode rtt: %v", err)
	}
	if !rtt.RemainingOverflow.Equal(decimal.NewFromInt(800)) || rtt.IsExhausted {
		t.Fatalf("expected 800 L left, got %s exhausted=%t", rtt.RemainingOverflow, rtt.IsExhausted)
	}
}

func TestRTTPathMismatchRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "manager", "manager123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/overflow/ovf-a/rtt", token, csrf, domain.RTTRequest{
		OverflowID:         "ovf-b",
		ReturnVolumeLiters: decimal.NewFromInt(10),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOverflowHoldRequiresManager(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "operator", "operator123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api.Handler(), http.MethodPatch, "/api/v1/overflow/ovf-any/hold", token, csrf, domain.OverflowHoldRequest{Hold: true})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeErrorBody(t, rec); body["kind"] != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN kind, got %v", body["kind"])
	}
}

func TestUnknownTankReturnsNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "operator", "operator123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/tanks/tank-missing", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["kind"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND kind, got %v", body["kind"])
	}
}

func TestOtherStationTankIsHiddenFromOperator(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tanks", admin, csrf, domain.TankCreateRequest{
		StationID:      "station-north",
		FuelType:       "petrol",
		CapacityLiters: decimal.NewFromInt(20000),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tank expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var tank domain.Tank
	if err := json.NewDecoder(rec.Body).Decode(&tank); err != nil {
		t.Fatalf("decode tank: %v", err)
	}

	operator := loginAs(t, api, "operator", "operator123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/tanks/"+tank.ID, operator, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for out-of-scope tank, got %d", rec.Code)
	}
}

func TestOverflowDashboard(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginAs(t, api, "manager", "manager123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/overflow/dashboard", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var dashboard domain.OverflowDashboard
	if err := json.NewDecoder(rec.Body).Decode(&dashboard); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dashboard.StationID != "station-main" || dashboard.Degraded {
		t.Fatalf("unexpected dashboard %+v", dashboard)
	}
}

func TestUsersEndpointIsAdminOnly(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	manager := loginAs(t, api, "manager", "manager123")
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/users", manager, "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users", admin, csrf, UserCreateRequest{
		Username:   "operator-two",
		Password:   "pass12345",
		Role:       domain.RoleOperator,
		StationIDs: []string{"station-main"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	loginAs(t, api, "operator-two", "pass12345")
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/metrics", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
