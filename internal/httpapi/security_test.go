package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/service"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/store/memory"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "")
	api := New(svc, NewAuthManager("test-secret-key-for-handlers-0123456789", time.Hour, repo), []string{"https://kasir.example.test"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "https://kasir.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-CSRF-Token")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://kasir.example.test" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res = httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin for unknown origin, got %q", got)
	}
}

func TestCSRFTokenRejectsForgery(t *testing.T) {
	api := newTestAPI(t)
	if !api.validateCSRFToken(fetchCSRFToken(t, api)) {
		t.Fatal("expected issued token to validate")
	}
	previous := api.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Add(-time.Hour).Unix())
	if !api.validateCSRFToken(previous) {
		t.Fatal("expected previous hour token to validate")
	}
	stale := api.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour).Unix())
	if api.validateCSRFToken(stale) || api.validateCSRFToken("") {
		t.Fatal("expected stale and empty tokens to be rejected")
	}
	other := newTestAPI(t)
	if other.validateCSRFToken(fetchCSRFToken(t, api)) {
		t.Fatal("expected token from another instance to be rejected")
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	res := httptest.NewRecorder()
	writeServiceError(res, errors.New("pq: relation sales does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("expected generic body, got %s", res.Body.String())
	}
	res = httptest.NewRecorder()
	writeServiceError(res, fmt.Errorf("%w: only 2 left", store.ErrInsufficientStock))
	if res.Code != http.StatusUnprocessableEntity || !strings.Contains(res.Body.String(), "only 2 left") {
		t.Fatalf("expected 422 with detail, got %d %s", res.Code, res.Body.String())
	}
}

func TestAdminProductCreateIsAudited(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	product := domain.ProductCreateRequest{
		SKU:          "flt-001",
		Name:         "Filter Udara",
		PriceCents:   6000000,
		InitialStock: []domain.BranchStockInput{{BranchID: memory.SouthBranchID, Quantity: 4}},
	}
	res := doRequest(t, api, http.MethodPost, "/api/v1/products", token, fetchCSRFToken(t, api), product)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	created := decodeBody[domain.Product](t, res)
	if created.SKU != "FLT-001" {
		t.Fatalf("expected normalized sku, got %q", created.SKU)
	}

	res = doRequest(t, api, http.MethodGet, "/api/v1/audit-logs?limit=10", token, "", nil)
	logs := decodeBody[struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}](t, res)
	if len(logs.AuditLogs) == 0 || logs.AuditLogs[0].Action != "product_create" || logs.AuditLogs[0].EntityID != created.ID {
		t.Fatalf("expected product_create audit entry first, got %+v", logs.AuditLogs)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "admin", "admin123").AccessToken
}
