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

func (s *Service) CreateJobOrder(ctx context.Context, req domain.JobOrderCreateRequest) (domain.JobOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.JobOrder{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.JobOrder{}, err
	}

	job := domain.JobOrder{
		ID:             xid.New("job"),
		BranchID:       branchID,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		VehiclePlate:   strings.ToUpper(strings.TrimSpace(req.VehiclePlate)),
		VehicleModel:   strings.TrimSpace(req.VehicleModel),
		Description:    strings.TrimSpace(req.Description),
		Status:         domain.JobStatusPending,
		LaborCostCents: req.LaborCostCents,
		QRToken:        xid.Token(),
	}
	if job.CustomerName == "" || job.VehiclePlate == "" {
		return domain.JobOrder{}, fmt.Errorf("%w: customer_name and vehicle_plate are required", store.ErrInvalidRequest)
	}
	if job.LaborCostCents < 0 {
		return domain.JobOrder{}, fmt.Errorf("%w: labor cost cannot be negative", store.ErrInvalidRequest)
	}
	if err := s.assignJobMechanic(ctx, &job, req.MechanicID); err != nil {
		return domain.JobOrder{}, err
	}
	if saleID := strings.TrimSpace(req.SaleID); saleID != "" {
		sale, err := s.repo.GetSale(ctx, saleID)
		if err != nil {
			return domain.JobOrder{}, err
		}
		if sale.BranchID != branchID {
			return domain.JobOrder{}, fmt.Errorf("%w: sale belongs to another branch", store.ErrInvalidRequest)
		}
		job.SaleID = sale.ID
	}
	if err := s.setJobParts(ctx, &job, req.Parts); err != nil {
		return domain.JobOrder{}, err
	}

	now := time.Now().UTC()
	job.Number = xid.Number("JO", now)
	job.CreatedAt = now
	job.UpdatedAt = now

	created, err := s.repo.CreateJobOrder(ctx, job)
	if err != nil {
		return domain.JobOrder{}, err
	}

	s.logAudit(ctx, branchID, "job_order_create", "job_order", created.ID,
		fmt.Sprintf("number=%s,plate=%s,labor=%d,parts=%d", created.Number, created.VehiclePlate, created.LaborCostCents, created.PartsCostCents))
	return *created, nil
}

func (s *Service) GetJobOrder(ctx context.Context, id string) (domain.JobOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.JobOrder{}, err
	}
	job, err := s.repo.GetJobOrder(ctx, id)
	if err != nil {
		return domain.JobOrder{}, err
	}
	if err := checkBranchAccess(actor, job.BranchID); err != nil {
		return domain.JobOrder{}, err
	}
	return *job, nil
}

func (s *Service) GetJobOrderByToken(ctx context.Context, token string) (domain.JobOrder, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.JobOrder{}, store.ErrNotFound
	}
	job, err := s.repo.GetJobOrderByToken(ctx, token)
	if err != nil {
		return domain.JobOrder{}, err
	}
	return *job, nil
}

func (s *Service) ListJobOrders(ctx context.Context, filter domain.JobOrderFilter) ([]domain.JobOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter.BranchID, err = scopeBranch(actor, filter.BranchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListJobOrders(ctx, filter)
}

// UpdateJobOrder edits a job order. Mechanic labor credit follows the stored
// row inside the store, so edits to a completed job move the credit too.
func (s *Service) UpdateJobOrder(ctx context.Context, id string, req domain.JobOrderUpdateRequest) (domain.JobOrder, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.JobOrder{}, err
	}
	current, err := s.repo.GetJobOrder(ctx, id)
	if err != nil {
		return domain.JobOrder{}, err
	}
	if err := checkBranchAccess(actor, current.BranchID); err != nil {
		return domain.JobOrder{}, err
	}

	job := *current
	if req.CustomerName != nil {
		job.CustomerName = strings.TrimSpace(*req.CustomerName)
	}
	if req.CustomerPhone != nil {
		job.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
	}
	if req.VehiclePlate != nil {
		job.VehiclePlate = strings.ToUpper(strings.TrimSpace(*req.VehiclePlate))
	}
	if req.VehicleModel != nil {
		job.VehicleModel = strings.TrimSpace(*req.VehicleModel)
	}
	if req.Description != nil {
		job.Description = strings.TrimSpace(*req.Description)
	}
	if job.CustomerName == "" || job.VehiclePlate == "" {
		return domain.JobOrder{}, fmt.Errorf("%w: customer_name and vehicle_plate are required", store.ErrInvalidRequest)
	}
	if req.LaborCostCents != nil {
		if *req.LaborCostCents < 0 {
			return domain.JobOrder{}, fmt.Errorf("%w: labor cost cannot be negative", store.ErrInvalidRequest)
		}
		job.LaborCostCents = *req.LaborCostCents
	}
	if req.MechanicID != nil && strings.TrimSpace(*req.MechanicID) != current.MechanicID {
		if err := s.assignJobMechanic(ctx, &job, *req.MechanicID); err != nil {
			return domain.JobOrder{}, err
		}
	}
	if req.Parts != nil {
		if err := s.setJobParts(ctx, &job, *req.Parts); err != nil {
			return domain.JobOrder{}, err
		}
	}
	if job.TotalCostCents, err = addCents(job.LaborCostCents, job.PartsCostCents); err != nil {
		return domain.JobOrder{}, err
	}

	now := time.Now().UTC()
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		if !domain.IsJobStatus(status) {
			return domain.JobOrder{}, fmt.Errorf("%w: unknown job order status %q", store.ErrInvalidRequest, *req.Status)
		}
		applyJobStatus(&job, status, now)
	}
	job.UpdatedAt = now

	updated, err := s.repo.UpdateJobOrder(ctx, job)
	if err != nil {
		return domain.JobOrder{}, err
	}

	s.logAudit(ctx, updated.BranchID, "job_order_update", "job_order", updated.ID,
		fmt.Sprintf("status=%s->%s,mechanic=%s,labor=%d", current.Status, updated.Status, updated.MechanicID, updated.LaborCostCents))
	return *updated, nil
}

func (s *Service) UpdateJobOrderStatus(ctx context.Context, id string, req domain.JobOrderStatusRequest) (domain.JobOrder, error) {
	status := req.Status
	return s.UpdateJobOrder(ctx, id, domain.JobOrderUpdateRequest{Status: &status})
}

func applyJobStatus(job *domain.JobOrder, status string, at time.Time) {
	if status == job.Status {
		return
	}
	job.Status = status
	if status == domain.JobStatusCompleted {
		completedAt := at
		job.CompletedAt = &completedAt
	} else {
		job.CompletedAt = nil
	}
}

func (s *Service) assignJobMechanic(ctx context.Context, job *domain.JobOrder, mechanicID string) error {
	mechanicID = strings.TrimSpace(mechanicID)
	if mechanicID == "" {
		job.MechanicID = ""
		return nil
	}
	ids, err := s.branchMechanics(ctx, job.BranchID, []string{mechanicID})
	if err != nil {
		return err
	}
	job.MechanicID = ids[0]
	return nil
}

// setJobParts prices the parts list. Parts tied to a catalog product default
// to its name and current price; free-text parts need both.
func (s *Service) setJobParts(ctx context.Context, job *domain.JobOrder, inputs []domain.JobOrderPartInput) error {
	parts := make([]domain.JobOrderPart, 0, len(inputs))
	total := int64(0)
	for _, in := range inputs {
		if in.Quantity < 1 || in.Quantity > maxLineQuantity || in.UnitPriceCents < 0 {
			return fmt.Errorf("%w: parts need a quantity between 1 and %d and a non-negative price", store.ErrInvalidRequest, maxLineQuantity)
		}
		part := domain.JobOrderPart{
			ID:             xid.New("jop"),
			JobOrderID:     job.ID,
			ProductID:      strings.TrimSpace(in.ProductID),
			Name:           strings.TrimSpace(in.Name),
			Quantity:       in.Quantity,
			UnitPriceCents: in.UnitPriceCents,
		}
		if part.ProductID != "" {
			product, err := s.repo.GetProduct(ctx, part.ProductID)
			if err != nil {
				return err
			}
			part.Name = defaultString(part.Name, product.Name)
			if part.UnitPriceCents == 0 {
				part.UnitPriceCents = product.PriceCents
			}
		}
		if part.Name == "" {
			return fmt.Errorf("%w: part name is required", store.ErrInvalidRequest)
		}
		lineTotal, err := multiplyCents(part.UnitPriceCents, part.Quantity)
		if err != nil {
			return err
		}
		part.TotalCents = lineTotal
		if total, err = addCents(total, lineTotal); err != nil {
			return err
		}
		parts = append(parts, part)
	}
	jobTotal, err := addCents(job.LaborCostCents, total)
	if err != nil {
		return err
	}
	job.Parts = parts
	job.PartsCostCents = total
	job.TotalCostCents = jobTotal
	return nil
}
