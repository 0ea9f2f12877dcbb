package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/logging"
	"bengkelpos/backend/internal/service"
	"bengkelpos/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigins []string
	loginLimiter   *attemptLimiter
	csrfSecret     []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigins []string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Fatal().Err(err).Msg("read csrf secret")
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://127.0.0.1:3000"}
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigins: allowedOrigins,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		csrfSecret:     csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	for _, bucket := range []int64{current, current - 3600} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(bucket))) {
			return true
		}
	}
	return false
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     a.allowedOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposedHeaders:     []string{"Content-Disposition"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	r.Use(a.secureHeaders)
	r.Use(a.csrfGuard)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	r.Get("/public/receipts/{token}", a.handlePublicReceipt)
	r.Get("/public/job-orders/{token}", a.handlePublicJobOrder)
	r.Get("/public/reservations/{token}", a.handlePublicReservation)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)
			r.Post("/auth/impersonate/leave", a.handleLeaveImpersonation)
			r.Post("/auth/impersonate/{userID}", a.handleImpersonate)

			r.Get("/branches", a.handleListBranches)
			r.Post("/branches", a.handleCreateBranch)
			r.Get("/branches/{id}", a.handleGetBranch)
			r.Patch("/branches/{id}", a.handleUpdateBranch)
			r.Delete("/branches/{id}", a.handleDeleteBranch)
			r.Put("/branches/{id}/menus", a.handleSetBranchMenus)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Post("/products/{id}/stock", a.handleAdjustStock)

			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{id}", a.handleGetSale)

			r.Get("/returns", a.handleListReturns)
			r.Post("/returns", a.handleRequestReturn)
			r.Post("/returns/{id}/approve", a.handleApproveReturn)
			r.Post("/returns/{id}/reject", a.handleRejectReturn)

			r.Get("/reservations", a.handleListReservations)
			r.Post("/reservations", a.handleCreateReservation)
			r.Get("/reservations/{id}", a.handleGetReservation)
			r.Post("/reservations/{id}/status", a.handleReservationStatus)

			r.Get("/job-orders", a.handleListJobOrders)
			r.Post("/job-orders", a.handleCreateJobOrder)
			r.Get("/job-orders/{id}", a.handleGetJobOrder)
			r.Patch("/job-orders/{id}", a.handleUpdateJobOrder)
			r.Post("/job-orders/{id}/status", a.handleJobOrderStatus)

			r.Get("/mechanics", a.handleListMechanics)
			r.Post("/mechanics", a.handleCreateMechanic)
			r.Patch("/mechanics/{id}", a.handleUpdateMechanic)
			r.Delete("/mechanics/{id}", a.handleDeleteMechanic)

			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
			r.Patch("/users/{id}", a.handleUpdateUser)
			r.Put("/users/{id}/menus", a.handleSetUserMenus)

			r.Get("/roles", a.handleListRoles)
			r.Post("/roles", a.handleCreateRole)
			r.Delete("/roles/{name}", a.handleDeleteRole)

			r.Get("/menus", a.handleListMenus)
			r.Post("/menus", a.handleCreateMenu)
			r.Delete("/menus/{id}", a.handleDeleteMenu)
			r.Get("/me/menus", a.handleMyMenus)

			r.Get("/attendance", a.handleListAttendance)
			r.Post("/attendance/clock-in", a.handleClockIn)
			r.Post("/attendance/clock-out", a.handleClockOut)

			r.Get("/analytics/summary", a.handleSalesSummary)
			r.Get("/analytics/summary.xlsx", a.handleSalesSummaryWorkbook)

			r.Post("/sync/offline-sales", a.handleOfflineSync)
			r.Get("/audit-logs", a.handleAuditLogs)
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		if isMutating(r.Method) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfExemptPaths are called without a prior token fetch: login has no session
// yet and offline terminals replay their queue unattended.
var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/login":         true,
	"/api/v1/sync/offline-sales": true,
}

func (a *API) csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && !csrfExemptPaths[r.URL.Path] {
			if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
				writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// decode reads a JSON body into dest and answers 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func parseTimeParam(name string, raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD", store.ErrInvalidRequest, name)
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseTimeParam("from", r.URL.Query().Get("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTimeParam("to", r.URL.Query().Get("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the cause of 5xx responses from clients and logs it instead.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
