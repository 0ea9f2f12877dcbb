package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

func (s *Store) ListMechanics(_ context.Context, branchID string) ([]domain.Mechanic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mechanic, 0, len(s.mechanicsByID))
	for _, m := range s.mechanicsByID {
		if branchID != "" && m.BranchID != branchID {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.Mechanic) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetMechanic(_ context.Context, id string) (*domain.Mechanic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mechanicsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) CreateMechanic(_ context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mechanic.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, ok := s.branches[mechanic.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, mechanic.BranchID)
	}
	if mechanic.ID == "" {
		mechanic.ID = xid.New("mch")
	}
	if mechanic.CreatedAt.IsZero() {
		mechanic.CreatedAt = time.Now().UTC()
	}
	mechanic.Active = true
	mechanic.TotalLaborEarnedCents = 0
	s.mechanicsByID[mechanic.ID] = mechanic
	return &mechanic, nil
}

func (s *Store) UpdateMechanic(_ context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.mechanicsByID[mechanic.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if mechanic.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	current.Name = mechanic.Name
	current.Phone = mechanic.Phone
	current.Active = mechanic.Active
	s.mechanicsByID[current.ID] = current
	return &current, nil
}

func (s *Store) CountOpenJobOrders(_ context.Context, mechanicID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, job := range s.jobOrdersByID {
		if job.MechanicID != mechanicID {
			continue
		}
		if job.Status == domain.JobStatusPending || job.Status == domain.JobStatusInProgress {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateJobOrder(_ context.Context, job domain.JobOrder) (*domain.JobOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[job.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, job.BranchID)
	}
	if job.MechanicID != "" {
		if _, ok := s.mechanicsByID[job.MechanicID]; !ok {
			return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, job.MechanicID)
		}
	}
	if job.ID == "" {
		job.ID = xid.New("job")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Parts = assignPartIDs(job.ID, job.Parts)

	s.applyLaborCreditLocked(nil, &job)
	stored := cloneJobOrder(&job)
	s.jobOrdersByID[job.ID] = stored
	return cloneJobOrder(stored), nil
}

func (s *Store) GetJobOrder(_ context.Context, id string) (*domain.JobOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobOrdersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJobOrder(job), nil
}

func (s *Store) GetJobOrderByToken(_ context.Context, token string) (*domain.JobOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobOrdersByID {
		if token != "" && job.QRToken == token {
			return cloneJobOrder(job), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListJobOrders(_ context.Context, filter domain.JobOrderFilter) ([]domain.JobOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.JobOrder, 0, len(s.jobOrdersByID))
	for _, job := range s.jobOrdersByID {
		if filter.BranchID != "" && job.BranchID != filter.BranchID {
			continue
		}
		if filter.MechanicID != "" && job.MechanicID != filter.MechanicID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if !inRange(job.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, *cloneJobOrder(job))
	}
	slices.SortFunc(result, func(a, b domain.JobOrder) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateJobOrder(_ context.Context, job domain.JobOrder) (*domain.JobOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobOrdersByID[job.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if job.MechanicID != "" {
		if _, ok := s.mechanicsByID[job.MechanicID]; !ok {
			return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, job.MechanicID)
		}
	}
	job.Number = current.Number
	job.BranchID = current.BranchID
	job.QRToken = current.QRToken
	job.CreatedAt = current.CreatedAt
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}
	job.Parts = assignPartIDs(job.ID, job.Parts)

	s.applyLaborCreditLocked(current, &job)
	stored := cloneJobOrder(&job)
	s.jobOrdersByID[job.ID] = stored
	return cloneJobOrder(stored), nil
}

// applyLaborCreditLocked moves a mechanic's earned labor from the credit held
// by previous to the credit held by next. A nil previous holds no credit.
func (s *Store) applyLaborCreditLocked(previous *domain.JobOrder, next *domain.JobOrder) {
	oldMechanic, oldCredit := domain.LaborCredit(previous)
	newMechanic, newCredit := domain.LaborCredit(next)
	if oldMechanic == newMechanic && oldCredit == newCredit {
		return
	}
	if m, ok := s.mechanicsByID[oldMechanic]; ok && oldCredit > 0 {
		m.TotalLaborEarnedCents = max(0, m.TotalLaborEarnedCents-oldCredit)
		s.mechanicsByID[oldMechanic] = m
	}
	if m, ok := s.mechanicsByID[newMechanic]; ok && newCredit > 0 {
		m.TotalLaborEarnedCents += newCredit
		s.mechanicsByID[newMechanic] = m
	}
}

func assignPartIDs(jobID string, parts []domain.JobOrderPart) []domain.JobOrderPart {
	result := make([]domain.JobOrderPart, len(parts))
	for i, part := range parts {
		if part.ID == "" {
			part.ID = xid.New("jop")
		}
		part.JobOrderID = jobID
		result[i] = part
	}
	return result
}

func cloneJobOrder(src *domain.JobOrder) *domain.JobOrder {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Parts = slices.Clone(src.Parts)
	if src.CompletedAt != nil {
		completedAt := *src.CompletedAt
		dup.CompletedAt = &completedAt
	}
	return &dup
}

func (s *Store) CreateReservation(_ context.Context, reservation domain.Reservation) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(reservation.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, ok := s.branches[reservation.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, reservation.BranchID)
	}
	for _, mechanicID := range reservation.MechanicIDs {
		if _, ok := s.mechanicsByID[mechanicID]; !ok {
			return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, mechanicID)
		}
	}
	if reservation.ID == "" {
		reservation.ID = xid.New("rsv")
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	reservation.UpdatedAt = reservation.CreatedAt
	if reservation.Status == "" {
		reservation.Status = domain.ReservationStatusPending
	}
	items := make([]domain.ReservationItem, len(reservation.Items))
	for i, item := range reservation.Items {
		if item.ID == "" {
			item.ID = xid.New("rsi")
		}
		item.ReservationID = reservation.ID
		items[i] = item
	}
	reservation.Items = items

	stored := cloneReservation(&reservation)
	s.reservationsByID[reservation.ID] = stored
	return cloneReservation(stored), nil
}

func (s *Store) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, ok := s.reservationsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReservation(reservation), nil
}

func (s *Store) GetReservationByToken(_ context.Context, token string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, reservation := range s.reservationsByID {
		if token != "" && reservation.QRToken == token {
			return cloneReservation(reservation), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListReservations(_ context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Reservation, 0, len(s.reservationsByID))
	for _, reservation := range s.reservationsByID {
		if filter.BranchID != "" && reservation.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && reservation.Status != filter.Status {
			continue
		}
		if !inRange(reservation.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, *cloneReservation(reservation))
	}
	slices.SortFunc(result, func(a, b domain.Reservation) int {
		if a.ScheduledAt.Equal(b.ScheduledAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.ScheduledAt.Before(b.ScheduledAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateReservationStatus(_ context.Context, id string, status string, at time.Time) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservationsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsFinalReservationStatus(reservation.Status) {
		return nil, fmt.Errorf("%w: reservation is already %s", store.ErrConflict, reservation.Status)
	}
	if status == domain.ReservationStatusCompleted || !domain.IsReservationStatus(status) {
		return nil, store.ErrInvalidRequest
	}
	reservation.Status = status
	reservation.UpdatedAt = at
	return cloneReservation(reservation), nil
}

func (s *Store) CompleteReservation(_ context.Context, id string, sale domain.Sale) (*domain.Reservation, *domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservationsByID[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if domain.IsFinalReservationStatus(reservation.Status) {
		return nil, nil, fmt.Errorf("%w: reservation is already %s", store.ErrConflict, reservation.Status)
	}

	sale.BranchID = reservation.BranchID
	sale.CustomerName = reservation.CustomerName
	sale.ReservationID = reservation.ID
	sale.MechanicIDs = slices.Clone(reservation.MechanicIDs)
	sale.Items = domain.SaleItemsFromReservation(reservation.Items)
	sale.SubtotalCents = reservation.TotalCents
	sale.TotalCents = reservation.TotalCents
	if sale.PaidCents < sale.TotalCents {
		sale.PaidCents = sale.TotalCents
	}
	sale.ChangeCents = sale.PaidCents - sale.TotalCents

	created, err := s.insertSaleLocked(sale)
	if err != nil {
		return nil, nil, err
	}
	reservation.Status = domain.ReservationStatusCompleted
	reservation.SaleID = created.ID
	reservation.UpdatedAt = created.CreatedAt
	return cloneReservation(reservation), cloneSale(created), nil
}

func cloneReservation(src *domain.Reservation) *domain.Reservation {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.MechanicIDs = slices.Clone(src.MechanicIDs)
	return &dup
}
