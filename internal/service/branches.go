package service

import (
	"context"
	"fmt"
	"strings"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return branches, nil
	}
	own := make([]domain.Branch, 0, 1)
	for _, b := range branches {
		if b.ID == actor.BranchID {
			own = append(own, b)
		}
	}
	return own, nil
}

func (s *Service) GetBranch(ctx context.Context, id string) (domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Branch{}, err
	}
	if err := checkBranchAccess(actor, id); err != nil {
		return domain.Branch{}, err
	}
	branch, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Branch{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Branch{}, fmt.Errorf("%w: name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		Name:    name,
		Address: strings.TrimSpace(req.Address),
		Phone:   strings.TrimSpace(req.Phone),
		IsMain:  req.IsMain,
		Active:  true,
	})
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, created.ID, "branch_create", "branch", created.ID, fmt.Sprintf("name=%s,main=%t", created.Name, created.IsMain))
	return *created, nil
}

func (s *Service) UpdateBranch(ctx context.Context, id string, req domain.BranchUpdateRequest) (domain.Branch, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Branch{}, err
	}
	existing, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return domain.Branch{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			return domain.Branch{}, fmt.Errorf("%w: name cannot be empty", store.ErrInvalidRequest)
		}
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.IsMain != nil {
		updated.IsMain = *req.IsMain
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if updated.IsMain && !updated.Active {
		return domain.Branch{}, fmt.Errorf("%w: the main branch cannot be deactivated", store.ErrConflict)
	}

	result, err := s.repo.UpdateBranch(ctx, updated)
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, result.ID, "branch_update", "branch", result.ID, fmt.Sprintf("name=%s,main=%t,active=%t", result.Name, result.IsMain, result.Active))
	return *result, nil
}

func (s *Service) DeleteBranch(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	branch, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		return err
	}
	if branch.IsMain {
		return fmt.Errorf("%w: the main branch cannot be deleted", store.ErrConflict)
	}
	deps, err := s.repo.CountBranchDependents(ctx, id)
	if err != nil {
		return err
	}
	if deps.Any() {
		return fmt.Errorf("%w: branch still has %d users, %d sales, %d reservations, %d job orders and %d mechanics",
			store.ErrConflict, deps.Users, deps.Sales, deps.Reservations, deps.JobOrders, deps.Mechanics)
	}
	if err := s.repo.DeleteBranch(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "", "branch_delete", "branch", id, "name="+branch.Name)
	return nil
}
