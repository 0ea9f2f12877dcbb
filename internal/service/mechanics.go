package service

import (
	"context"
	"fmt"
	"strings"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

func (s *Service) ListMechanics(ctx context.Context, branchID string) ([]domain.Mechanic, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err = scopeBranch(actor, branchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMechanics(ctx, branchID)
}

func (s *Service) CreateMechanic(ctx context.Context, req domain.MechanicCreateRequest) (domain.Mechanic, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Mechanic{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.Mechanic{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Mechanic{}, fmt.Errorf("%w: name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateMechanic(ctx, domain.Mechanic{
		BranchID: branchID,
		Name:     name,
		Phone:    strings.TrimSpace(req.Phone),
		Active:   true,
	})
	if err != nil {
		return domain.Mechanic{}, err
	}

	s.logAudit(ctx, branchID, "mechanic_create", "mechanic", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateMechanic(ctx context.Context, id string, req domain.MechanicUpdateRequest) (domain.Mechanic, error) {
	current, err := s.managedMechanic(ctx, id)
	if err != nil {
		return domain.Mechanic{}, err
	}

	updated := current
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			return domain.Mechanic{}, fmt.Errorf("%w: name cannot be empty", store.ErrInvalidRequest)
		}
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	result, err := s.repo.UpdateMechanic(ctx, updated)
	if err != nil {
		return domain.Mechanic{}, err
	}

	s.logAudit(ctx, result.BranchID, "mechanic_update", "mechanic", result.ID, fmt.Sprintf("name=%s,active=%t", result.Name, result.Active))
	return *result, nil
}

// DeleteMechanic deactivates the mechanic so job history and earnings stay intact.
func (s *Service) DeleteMechanic(ctx context.Context, id string) error {
	current, err := s.managedMechanic(ctx, id)
	if err != nil {
		return err
	}
	open, err := s.repo.CountOpenJobOrders(ctx, id)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: mechanic has %d open job orders", store.ErrConflict, open)
	}

	current.Active = false
	if _, err := s.repo.UpdateMechanic(ctx, current); err != nil {
		return err
	}

	s.logAudit(ctx, current.BranchID, "mechanic_delete", "mechanic", current.ID, "name="+current.Name)
	return nil
}

func (s *Service) managedMechanic(ctx context.Context, id string) (domain.Mechanic, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Mechanic{}, err
	}
	mechanic, err := s.repo.GetMechanic(ctx, id)
	if err != nil {
		return domain.Mechanic{}, err
	}
	if err := checkBranchAccess(actor, mechanic.BranchID); err != nil {
		return domain.Mechanic{}, err
	}
	return *mechanic, nil
}
