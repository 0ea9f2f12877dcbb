package service

import (
	"context"
	"fmt"
	"strings"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err = scopeBranch(actor, branchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, branchID)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = domain.ProductTypeProduct
	}

	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name are required", store.ErrInvalidRequest)
	}
	if req.Type != domain.ProductTypeProduct && req.Type != domain.ProductTypeService {
		return domain.Product{}, fmt.Errorf("%w: type must be product or service", store.ErrInvalidRequest)
	}
	if req.PriceCents < 0 || req.CostCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: price and cost cannot be negative", store.ErrInvalidRequest)
	}
	if req.Type == domain.ProductTypeService && len(req.InitialStock) > 0 {
		return domain.Product{}, fmt.Errorf("%w: services carry no stock", store.ErrInvalidRequest)
	}
	for _, in := range req.InitialStock {
		if in.Quantity < 0 || in.Quantity > store.MaxStockQuantity {
			return domain.Product{}, fmt.Errorf("%w: initial stock must be between 0 and %d", store.ErrInvalidRequest, store.MaxStockQuantity)
		}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		Type:       req.Type,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Active:     true,
	}, req.InitialStock)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_create", "product", created.ID, fmt.Sprintf("sku=%s,type=%s,price=%d", created.SKU, created.Type, created.PriceCents))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrInvalidRequest)
		}
		updated.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: price cannot be negative", store.ErrInvalidRequest)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: cost cannot be negative", store.ErrInvalidRequest)
		}
		updated.CostCents = *req.CostCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	result, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "", "product_update", "product", result.ID,
		fmt.Sprintf("price=%d->%d,active=%t", existing.PriceCents, result.PriceCents, result.Active))
	return *result, nil
}

// DeleteProduct deactivates the product. Sale items keep their snapshot.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	inactive := false
	_, err := s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
	return err
}

func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.StockAdjustResponse, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if req.Quantity < 1 || req.Quantity > store.MaxStockQuantity {
		return domain.StockAdjustResponse{}, fmt.Errorf("%w: quantity must be between 1 and %d", store.ErrInvalidRequest, store.MaxStockQuantity)
	}

	delta := req.Quantity
	switch strings.ToLower(strings.TrimSpace(req.Direction)) {
	case domain.StockDirectionAdd:
	case domain.StockDirectionSubtract:
		delta = -req.Quantity
	default:
		return domain.StockAdjustResponse{}, fmt.Errorf("%w: direction must be add or subtract", store.ErrInvalidRequest)
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}
	if !product.TracksStock() {
		return domain.StockAdjustResponse{}, fmt.Errorf("%w: services carry no stock", store.ErrInvalidRequest)
	}

	previous, next, err := s.repo.AdjustStock(ctx, branchID, productID, delta)
	if err != nil {
		return domain.StockAdjustResponse{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	s.logAudit(ctx, branchID, "stock_adjust", "product", productID,
		fmt.Sprintf("direction=%s,qty=%d,from=%d,to=%d,reason=%s", req.Direction, req.Quantity, previous, next, reason))

	return domain.StockAdjustResponse{
		BranchID:         branchID,
		ProductID:        productID,
		PreviousQuantity: previous,
		Quantity:         next,
		Message:          fmt.Sprintf("stock for %s adjusted from %d to %d", product.Name, previous, next),
	}, nil
}
