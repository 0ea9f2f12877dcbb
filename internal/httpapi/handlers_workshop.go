package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bengkelpos/backend/internal/domain"
)

func (a *API) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationCreateRequest
	if !decode(w, r, &req) {
		return
	}
	reservation, err := a.service.CreateReservation(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (a *API) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := a.service.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (a *API) handleListReservations(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	query := r.URL.Query()
	reservations, err := a.service.ListReservations(r.Context(), domain.ReservationFilter{
		BranchID: query.Get("branch_id"),
		Status:   query.Get("status"),
		From:     from,
		To:       to,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": reservations})
}

// handleReservationStatus also answers with the generated sale when the
// reservation is completed.
func (a *API) handleReservationStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationStatusRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.service.UpdateReservationStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateJobOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.JobOrderCreateRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := a.service.CreateJobOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (a *API) handleGetJobOrder(w http.ResponseWriter, r *http.Request) {
	job, err := a.service.GetJobOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleListJobOrders(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	query := r.URL.Query()
	jobs, err := a.service.ListJobOrders(r.Context(), domain.JobOrderFilter{
		BranchID:   query.Get("branch_id"),
		MechanicID: query.Get("mechanic_id"),
		Status:     query.Get("status"),
		From:       from,
		To:         to,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_orders": jobs})
}

func (a *API) handleUpdateJobOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.JobOrderUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := a.service.UpdateJobOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleJobOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.JobOrderStatusRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := a.service.UpdateJobOrderStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleListMechanics(w http.ResponseWriter, r *http.Request) {
	mechanics, err := a.service.ListMechanics(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mechanics": mechanics})
}

func (a *API) handleCreateMechanic(w http.ResponseWriter, r *http.Request) {
	var req domain.MechanicCreateRequest
	if !decode(w, r, &req) {
		return
	}
	mechanic, err := a.service.CreateMechanic(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mechanic)
}

func (a *API) handleUpdateMechanic(w http.ResponseWriter, r *http.Request) {
	var req domain.MechanicUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	mechanic, err := a.service.UpdateMechanic(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mechanic)
}

func (a *API) handleDeleteMechanic(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteMechanic(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
