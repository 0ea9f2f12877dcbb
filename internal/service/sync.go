package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

const maxOfflineBatch = 500

// SyncOfflineSales replays sales captured while a terminal was offline. Each
// entry is keyed by its client_ref, so resending an envelope is harmless:
// already-recorded entries come back as duplicates with the original sale ID.
func (s *Service) SyncOfflineSales(ctx context.Context, req domain.OfflineSyncRequest) (domain.OfflineSyncResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OfflineSyncResponse{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.OfflineSyncResponse{}, err
	}
	if len(req.Sales) == 0 {
		return domain.OfflineSyncResponse{}, fmt.Errorf("%w: sales cannot be empty", store.ErrInvalidRequest)
	}
	if len(req.Sales) > maxOfflineBatch {
		return domain.OfflineSyncResponse{}, fmt.Errorf("%w: at most %d sales per envelope", store.ErrInvalidRequest, maxOfflineBatch)
	}

	response := domain.OfflineSyncResponse{
		EnvelopeID: strings.TrimSpace(req.EnvelopeID),
		Statuses:   make([]domain.OfflineSyncStatus, 0, len(req.Sales)),
	}
	accepted, duplicates, rejected := 0, 0, 0

	for _, entry := range req.Sales {
		clientRef := strings.TrimSpace(entry.ClientRef)
		status := domain.OfflineSyncStatus{ClientRef: clientRef}
		if clientRef == "" {
			status.Status = domain.SyncStatusRejected
			status.Reason = "client_ref is required"
			response.Statuses = append(response.Statuses, status)
			rejected++
			continue
		}

		if existing, err := s.repo.FindSaleByClientRef(ctx, clientRef); err == nil {
			status.Status = domain.SyncStatusDuplicate
			status.SaleID = existing.ID
			response.Statuses = append(response.Statuses, status)
			duplicates++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.OfflineSyncResponse{}, err
		}

		saleReq := entry.Sale
		saleReq.BranchID = branchID
		saleReq.ClientRef = clientRef
		sale, err := s.CreateSale(ctx, saleReq)
		switch {
		case err == nil:
			status.Status = domain.SyncStatusAccepted
			status.SaleID = sale.ID
			accepted++
		case errors.Is(err, store.ErrConflict):
			// Another request recorded the same client_ref between lookup and insert.
			if existing, lookupErr := s.repo.FindSaleByClientRef(ctx, clientRef); lookupErr == nil {
				status.Status = domain.SyncStatusDuplicate
				status.SaleID = existing.ID
				duplicates++
			} else {
				status.Status = domain.SyncStatusRejected
				status.Reason = err.Error()
				rejected++
			}
		default:
			status.Status = domain.SyncStatusRejected
			status.Reason = err.Error()
			rejected++
		}
		response.Statuses = append(response.Statuses, status)
	}

	log.Info().
		Str("branch_id", branchID).
		Str("terminal_id", req.TerminalID).
		Str("envelope_id", response.EnvelopeID).
		Int("accepted", accepted).
		Int("duplicate", duplicates).
		Int("rejected", rejected).
		Msg("offline sales synced")

	s.logAudit(ctx, branchID, "offline_sync", "envelope", response.EnvelopeID,
		fmt.Sprintf("terminal=%s,accepted=%d,duplicate=%d,rejected=%d", req.TerminalID, accepted, duplicates, rejected))
	return response, nil
}
