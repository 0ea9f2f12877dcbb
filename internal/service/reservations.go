package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

func (s *Service) CreateReservation(ctx context.Context, req domain.ReservationCreateRequest) (domain.Reservation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.Reservation{}, err
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		return domain.Reservation{}, fmt.Errorf("%w: customer_name is required", store.ErrInvalidRequest)
	}
	if req.ScheduledAt.IsZero() {
		return domain.Reservation{}, fmt.Errorf("%w: scheduled_at is required", store.ErrInvalidRequest)
	}

	lines, total, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return domain.Reservation{}, err
	}
	mechanicIDs, err := s.branchMechanics(ctx, branchID, req.MechanicIDs)
	if err != nil {
		return domain.Reservation{}, err
	}

	items := make([]domain.ReservationItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.ReservationItem{
			ID:             xid.New("rsi"),
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			ProductType:    line.ProductType,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents,
		})
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateReservation(ctx, domain.Reservation{
		ID:            xid.New("rsv"),
		Number:        xid.Number("RS", now),
		BranchID:      branchID,
		CustomerName:  customer,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		ScheduledAt:   req.ScheduledAt.UTC(),
		Status:        domain.ReservationStatusPending,
		Notes:         strings.TrimSpace(req.Notes),
		TotalCents:    total,
		QRToken:       xid.Token(),
		CreatedBy:     actor.Username,
		MechanicIDs:   mechanicIDs,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.logAudit(ctx, branchID, "reservation_create", "reservation", created.ID,
		fmt.Sprintf("number=%s,total=%d,scheduled_at=%s", created.Number, created.TotalCents, created.ScheduledAt.Format(time.RFC3339)))
	return *created, nil
}

func (s *Service) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if err := checkBranchAccess(actor, reservation.BranchID); err != nil {
		return domain.Reservation{}, err
	}
	return *reservation, nil
}

func (s *Service) GetReservationByToken(ctx context.Context, token string) (domain.Reservation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Reservation{}, store.ErrNotFound
	}
	reservation, err := s.repo.GetReservationByToken(ctx, token)
	if err != nil {
		return domain.Reservation{}, err
	}
	return *reservation, nil
}

func (s *Service) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.BranchID, err = scopeBranch(actor, filter.BranchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReservations(ctx, filter)
}

// UpdateReservationStatus moves a reservation along. Completing it converts
// the reservation into a sale in one store transaction.
func (s *Service) UpdateReservationStatus(ctx context.Context, id string, req domain.ReservationStatusRequest) (domain.ReservationStatusResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ReservationStatusResponse{}, err
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !domain.IsReservationStatus(status) {
		return domain.ReservationStatusResponse{}, fmt.Errorf("%w: unknown reservation status %q", store.ErrInvalidRequest, req.Status)
	}

	current, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return domain.ReservationStatusResponse{}, err
	}
	if err := checkBranchAccess(actor, current.BranchID); err != nil {
		return domain.ReservationStatusResponse{}, err
	}

	now := time.Now().UTC()
	if status != domain.ReservationStatusCompleted {
		updated, err := s.repo.UpdateReservationStatus(ctx, id, status, now)
		if err != nil {
			return domain.ReservationStatusResponse{}, err
		}
		s.logAudit(ctx, updated.BranchID, "reservation_status", "reservation", updated.ID,
			fmt.Sprintf("status=%s->%s", current.Status, updated.Status))
		return domain.ReservationStatusResponse{Reservation: *updated}, nil
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(method) {
		return domain.ReservationStatusResponse{}, fmt.Errorf("%w: unsupported payment method %s", store.ErrInvalidRequest, method)
	}

	completed, sale, err := s.repo.CompleteReservation(ctx, id, domain.Sale{
		ID:              xid.New("sale"),
		Number:          xid.Number("SL", now),
		CashierUsername: actor.Username,
		PaymentMethod:   method,
		Status:          domain.SaleStatusCompleted,
		QRToken:         xid.Token(),
		CreatedAt:       now,
	})
	if err != nil {
		return domain.ReservationStatusResponse{}, err
	}

	s.logAudit(ctx, completed.BranchID, "reservation_complete", "reservation", completed.ID,
		fmt.Sprintf("sale=%s,total=%d", sale.ID, sale.TotalCents))
	return domain.ReservationStatusResponse{Reservation: *completed, Sale: sale}, nil
}
