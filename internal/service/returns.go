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

func (s *Service) RequestReturn(ctx context.Context, req domain.ReturnCreateRequest) (domain.SalesReturn, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if req.SaleID == "" || req.SaleItemID == "" || req.Quantity < 1 || reason == "" {
		return domain.SalesReturn{}, fmt.Errorf("%w: sale, sale item, positive quantity and reason are required", store.ErrInvalidRequest)
	}

	sale, err := s.repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	if err := checkBranchAccess(actor, sale.BranchID); err != nil {
		return domain.SalesReturn{}, err
	}

	created, err := s.repo.CreateReturn(ctx, domain.SalesReturn{
		ID:          xid.New("ret"),
		SaleID:      sale.ID,
		SaleItemID:  req.SaleItemID,
		Quantity:    req.Quantity,
		Reason:      reason,
		RequestedBy: actor.Username,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.SalesReturn{}, err
	}

	s.logAudit(ctx, created.BranchID, "return_request", "sales_return", created.ID,
		fmt.Sprintf("sale=%s,item=%s,qty=%d,amount=%d", created.SaleID, created.SaleItemID, created.Quantity, created.AmountCents))
	return *created, nil
}

func (s *Service) ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.SalesReturn, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.BranchID, err = scopeBranch(actor, filter.BranchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, filter)
}

func (s *Service) ApproveReturn(ctx context.Context, id string) (domain.ReturnDecisionResponse, error) {
	actor, err := s.reviewableReturn(ctx, id)
	if err != nil {
		return domain.ReturnDecisionResponse{}, err
	}

	ret, sale, err := s.repo.ApproveReturn(ctx, id, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.ReturnDecisionResponse{}, err
	}

	s.logAudit(ctx, ret.BranchID, "return_approve", "sales_return", ret.ID,
		fmt.Sprintf("sale=%s,qty=%d,amount=%d,sale_status=%s", ret.SaleID, ret.Quantity, ret.AmountCents, sale.Status))
	return domain.ReturnDecisionResponse{Return: *ret, Sale: sale}, nil
}

func (s *Service) RejectReturn(ctx context.Context, id string) (domain.ReturnDecisionResponse, error) {
	actor, err := s.reviewableReturn(ctx, id)
	if err != nil {
		return domain.ReturnDecisionResponse{}, err
	}

	ret, err := s.repo.RejectReturn(ctx, id, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.ReturnDecisionResponse{}, err
	}

	s.logAudit(ctx, ret.BranchID, "return_reject", "sales_return", ret.ID, fmt.Sprintf("sale=%s,qty=%d", ret.SaleID, ret.Quantity))
	return domain.ReturnDecisionResponse{Return: *ret}, nil
}

func (s *Service) reviewableReturn(ctx context.Context, id string) (domain.Actor, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := checkBranchAccess(actor, ret.BranchID); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}
