package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/service"
	"bengkelpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "https://pos.example.test")
	auth := NewAuthManager("test-secret-key-for-handlers-0123456789", time.Hour, repo)

	return New(svc, auth, []string{"*"})
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

var loginAddr atomic.Int32

// loginAs signs in from a fresh client address so the login limiter never
// interferes with scenario tests.
func loginAs(t *testing.T, api *API, username string, password string) domain.LoginResponse {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	n := loginAddr.Add(1)
	req.RemoteAddr = fmt.Sprintf("10.1.%d.%d:4000", n/250, n%250+1)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, res.Code, res.Body.String())
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return payload
}

func doRequest(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	resp := loginAs(t, api, "cashier", "cashier123")
	if resp.AccessToken == "" {
		t.Fatal("expected access_token in response")
	}
	if resp.Role != domain.RoleCashier || resp.BranchID != memory.MainBranchID {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	res := doRequest(t, api, http.MethodGet, "/api/v1/products", "", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123").AccessToken

	res := doRequest(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	body := decodeBody[struct {
		Products []domain.ProductWithStock `json:"products"`
	}](t, res)
	for _, p := range body.Products {
		if p.ID == memory.ProductOilID && p.StockQuantity != 24 {
			t.Fatalf("expected main branch oil stock 24, got %d", p.StockQuantity)
		}
	}
	if len(body.Products) == 0 {
		t.Fatal("expected seeded products")
	}
}

func TestSaleFlowServesPublicReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123").AccessToken
	sale := domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCash,
		PaidCents:     20000000,
		CustomerName:  "<b>Rina</b>",
		Items: []domain.SaleLineRequest{
			{ProductID: memory.ProductOilID, Quantity: 2},
			{ProductID: memory.ServiceOilJobID, Quantity: 1},
		},
	}

	if res := doRequest(t, api, http.MethodPost, "/api/v1/sales", token, "", sale); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	res := doRequest(t, api, http.MethodPost, "/api/v1/sales", token, fetchCSRFToken(t, api), sale)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	created := decodeBody[domain.Sale](t, res)
	if created.TotalCents != 2*5500000+2500000 || created.ChangeCents != 20000000-created.TotalCents {
		t.Fatalf("unexpected totals: %+v", created)
	}

	res = doRequest(t, api, http.MethodGet, "/public/receipts/"+created.QRToken, "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected public receipt, got %d", res.Code)
	}
	receipt := decodeBody[domain.Receipt](t, res)
	if receipt.Sale.ID != created.ID || receipt.BranchName == "" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if receipt.ReceiptURL != "https://pos.example.test/public/receipts/"+created.QRToken {
		t.Fatalf("unexpected receipt url %q", receipt.ReceiptURL)
	}

	res = doRequest(t, api, http.MethodGet, "/public/receipts/"+created.QRToken+"?format=html", "", "", nil)
	if res.Code != http.StatusOK || !strings.HasPrefix(res.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected html receipt, got %d %q", res.Code, res.Header().Get("Content-Type"))
	}
	page := res.Body.String()
	if !strings.Contains(page, created.Number) || strings.Contains(page, "<b>Rina</b>") {
		t.Fatalf("receipt page should show the number and escape the customer name:\n%s", page)
	}

	if res := doRequest(t, api, http.MethodGet, "/public/receipts/unknown-token", "", "", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", res.Code)
	}
}

func TestSaleErrorsMapToStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123").AccessToken
	csrf := fetchCSRFToken(t, api)

	oversell := domain.SaleCreateRequest{
		PaymentMethod: domain.PaymentCard,
		Items:         []domain.SaleLineRequest{{ProductID: memory.ProductOilID, Quantity: 25}},
	}
	if res := doRequest(t, api, http.MethodPost, "/api/v1/sales", token, csrf, oversell); res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversell, got %d (body: %s)", res.Code, res.Body.String())
	}

	otherBranch := oversell
	otherBranch.BranchID = memory.SouthBranchID
	otherBranch.Items = []domain.SaleLineRequest{{ProductID: memory.ProductOilID, Quantity: 1}}
	if res := doRequest(t, api, http.MethodPost, "/api/v1/sales", token, csrf, otherBranch); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch, got %d", res.Code)
	}

	empty := domain.SaleCreateRequest{PaymentMethod: domain.PaymentCard}
	if res := doRequest(t, api, http.MethodPost, "/api/v1/sales", token, csrf, empty); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty sale, got %d", res.Code)
	}

	if res := doRequest(t, api, http.MethodGet, "/api/v1/sales/sale-missing", token, "", nil); res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing sale, got %d", res.Code)
	}

	if res := doRequest(t, api, http.MethodGet, "/api/v1/sales?from=yesterday", token, "", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", res.Code)
	}
}

func TestOfflineSyncIsExemptFromCSRF(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123").AccessToken
	envelope := domain.OfflineSyncRequest{
		TerminalID: "T-01",
		EnvelopeID: "env-1",
		Sales: []domain.OfflineSale{{
			ClientRef: "T-01-0001",
			Sale: domain.SaleCreateRequest{
				PaymentMethod: domain.PaymentTransfer,
				Items:         []domain.SaleLineRequest{{ProductID: memory.ProductSparkID, Quantity: 1}},
			},
		}},
	}

	for i, want := range []string{domain.SyncStatusAccepted, domain.SyncStatusDuplicate} {
		res := doRequest(t, api, http.MethodPost, "/api/v1/sync/offline-sales", token, "", envelope)
		if res.Code != http.StatusOK {
			t.Fatalf("replay %d: expected 200, got %d (body: %s)", i, res.Code, res.Body.String())
		}
		resp := decodeBody[domain.OfflineSyncResponse](t, res)
		if len(resp.Statuses) != 1 || resp.Statuses[0].Status != want {
			t.Fatalf("replay %d: unexpected statuses %+v", i, resp.Statuses)
		}
	}
}

func TestImpersonationRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/auth/impersonate/usr-cashier", admin.AccessToken, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("impersonate failed: %d %s", res.Code, res.Body.String())
	}
	session := decodeBody[domain.LoginResponse](t, res)
	if session.Username != "cashier" || session.Impersonator != "admin" {
		t.Fatalf("unexpected impersonated session: %+v", session)
	}

	res = doRequest(t, api, http.MethodGet, "/api/v1/auth/me", session.AccessToken, "", nil)
	me := decodeBody[domain.MeResponse](t, res)
	if me.User.ID != "usr-cashier" || me.Impersonator != "admin" {
		t.Fatalf("unexpected me response: %+v", me)
	}

	// Acting as a cashier, the admin loses admin-only routes.
	if res := doRequest(t, api, http.MethodGet, "/api/v1/audit-logs", session.AccessToken, "", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier audit access, got %d", res.Code)
	}

	res = doRequest(t, api, http.MethodPost, "/api/v1/auth/impersonate/leave", session.AccessToken, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("leave failed: %d %s", res.Code, res.Body.String())
	}
	back := decodeBody[domain.LoginResponse](t, res)
	if back.Username != "admin" || back.Role != domain.RoleAdmin || back.Impersonator != "" {
		t.Fatalf("unexpected session after leave: %+v", back)
	}

	if res := doRequest(t, api, http.MethodPost, "/api/v1/auth/impersonate/leave", back.AccessToken, csrf, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 leaving without impersonation, got %d", res.Code)
	}
}

func TestSummaryWorkbookDownload(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager", "manager123").AccessToken

	res := doRequest(t, api, http.MethodGet, "/api/v1/analytics/summary.xlsx?from=2020-01-01", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if got := res.Header().Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.HasPrefix(res.Header().Get("Content-Disposition"), "attachment;") {
		t.Fatalf("expected attachment disposition, got %q", res.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("PK")) {
		t.Fatal("expected a zip-based xlsx payload")
	}

	cashier := loginAs(t, api, "cashier", "cashier123").AccessToken
	if res := doRequest(t, api, http.MethodGet, "/api/v1/analytics/summary", cashier, "", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier analytics, got %d", res.Code)
	}
}

func TestDeleteRequiresCSRF(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager", "manager123").AccessToken

	if res := doRequest(t, api, http.MethodDelete, "/api/v1/mechanics/"+memory.MechanicMainID, token, "", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}
	if res := doRequest(t, api, http.MethodDelete, "/api/v1/mechanics/"+memory.MechanicMainID, token, fetchCSRFToken(t, api), nil); res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestWorkshopDocumentsArePublicByToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123").AccessToken
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/job-orders", token, csrf, domain.JobOrderCreateRequest{
		MechanicID:     memory.MechanicMainID,
		CustomerName:   "Pak Joko",
		VehiclePlate:   "B 1234 XYZ",
		LaborCostCents: 15000000,
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create job order: %d %s", res.Code, res.Body.String())
	}
	job := decodeBody[domain.JobOrder](t, res)

	res = doRequest(t, api, http.MethodGet, "/public/job-orders/"+job.QRToken, "", "", nil)
	if res.Code != http.StatusOK || decodeBody[domain.JobOrder](t, res).ID != job.ID {
		t.Fatalf("expected public job order, got %d", res.Code)
	}

	res = doRequest(t, api, http.MethodPost, "/api/v1/reservations", token, csrf, domain.ReservationCreateRequest{
		CustomerName: "Bu Sari",
		ScheduledAt:  time.Now().Add(24 * time.Hour).UTC(),
		Items:        []domain.SaleLineRequest{{ProductID: memory.ServiceTuneUpID, Quantity: 1}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create reservation: %d %s", res.Code, res.Body.String())
	}
	reservation := decodeBody[domain.Reservation](t, res)

	res = doRequest(t, api, http.MethodGet, "/public/reservations/"+reservation.QRToken, "", "", nil)
	if res.Code != http.StatusOK || decodeBody[domain.Reservation](t, res).ID != reservation.ID {
		t.Fatalf("expected public reservation, got %d", res.Code)
	}

	south := loginAs(t, api, "cashier.south", "cashier123").AccessToken
	if res := doRequest(t, api, http.MethodGet, "/api/v1/job-orders/"+job.ID, south, "", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch's job order, got %d", res.Code)
	}
}

func TestParseTimeParam(t *testing.T) {
	to, err := parseTimeParam("to", "2024-03-10", true)
	if err != nil || !to.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date upper bound to cover the day, got %v %v", to, err)
	}
	from, err := parseTimeParam("from", "2024-03-10T08:00:00+07:00", false)
	if err != nil || !from.Equal(time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected rfc3339 parse: %v %v", from, err)
	}
	if _, err := parseTimeParam("from", "10/03/2024", false); statusForError(err) != http.StatusBadRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
