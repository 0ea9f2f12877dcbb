package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/service"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountInactive) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := a.service.Me(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

// handleImpersonate swaps the admin session for one acting as the target user.
// The new token remembers the admin so the session can be handed back.
func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	target, err := a.service.Impersonate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := a.auth.Issue(target, actor.Username)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLeaveImpersonation(w http.ResponseWriter, r *http.Request) {
	admin, err := a.service.LeaveImpersonation(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp, err := a.auth.Issue(admin, "")
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := a.service.UpdateUser(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSetUserMenus(w http.ResponseWriter, r *http.Request) {
	var req domain.MenuAssignRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.service.SetUserMenus(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetBranchMenus(w http.ResponseWriter, r *http.Request) {
	var req domain.MenuAssignRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.service.SetBranchMenus(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.service.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req domain.RoleCreateRequest
	if !decode(w, r, &req) {
		return
	}
	role, err := a.service.CreateRole(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := a.service.ListMenus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"menus": menus})
}

func (a *API) handleCreateMenu(w http.ResponseWriter, r *http.Request) {
	var req domain.MenuCreateRequest
	if !decode(w, r, &req) {
		return
	}
	menu, err := a.service.CreateMenu(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, menu)
}

func (a *API) handleDeleteMenu(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteMenu(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMyMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := a.service.MyMenus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"menus": menus})
}

func (a *API) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	records, err := a.service.ListAttendance(r.Context(), domain.AttendanceFilter{
		BranchID: query.Get("branch_id"),
		From:     query.Get("from"),
		To:       query.Get("to"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attendance": records})
}

func (a *API) handleClockIn(w http.ResponseWriter, r *http.Request) {
	var req domain.ClockRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	record, err := a.service.ClockIn(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (a *API) handleClockOut(w http.ResponseWriter, r *http.Request) {
	var req domain.ClockRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	record, err := a.service.ClockOut(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("branch_id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// decodeOptional is decode for endpoints whose body may be left out.
func decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}
