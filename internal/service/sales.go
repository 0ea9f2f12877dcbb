package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	// maxLineQuantity bounds one priced line after duplicates are merged.
	maxLineQuantity = 100_000
)

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	branchID, err := targetBranch(actor, req.BranchID)
	if err != nil {
		return domain.Sale{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(method) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %s", store.ErrInvalidRequest, method)
	}

	items, total, err := s.priceLines(ctx, req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	mechanicIDs, err := s.branchMechanics(ctx, branchID, req.MechanicIDs)
	if err != nil {
		return domain.Sale{}, err
	}

	paid := req.PaidCents
	if paid < 0 {
		return domain.Sale{}, fmt.Errorf("%w: paid amount cannot be negative", store.ErrInvalidRequest)
	}
	if paid < total {
		if method == domain.PaymentCash {
			return domain.Sale{}, fmt.Errorf("%w: paid %d is less than total %d", store.ErrInvalidRequest, paid, total)
		}
		paid = total
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:              xid.New("sale"),
		Number:          xid.Number("SL", now),
		BranchID:        branchID,
		CashierUsername: actor.Username,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		PaymentMethod:   method,
		Status:          domain.SaleStatusCompleted,
		SubtotalCents:   total,
		TotalCents:      total,
		PaidCents:       paid,
		ChangeCents:     max(0, paid-total),
		QRToken:         xid.Token(),
		ClientRef:       strings.TrimSpace(req.ClientRef),
		MechanicIDs:     mechanicIDs,
		Items:           items,
		CreatedAt:       now,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, branchID, "sale_create", "sale", created.ID,
		fmt.Sprintf("number=%s,total=%d,items=%d,method=%s", created.Number, created.TotalCents, len(created.Items), created.PaymentMethod))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := checkBranchAccess(actor, sale.BranchID); err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SalePage, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SalePage{}, err
	}
	filter.BranchID, err = scopeBranch(actor, filter.BranchID)
	if err != nil {
		return domain.SalePage{}, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		filter.Limit = maxPageLimit
	}

	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SalePage{}, err
	}
	return domain.SalePage{Sales: sales, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// GetReceipt is the public QR lookup; it needs no actor.
func (s *Service) GetReceipt(ctx context.Context, token string) (domain.Receipt, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Receipt{}, store.ErrNotFound
	}
	sale, err := s.repo.GetSaleByToken(ctx, token)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt := domain.Receipt{
		Sale:       *sale,
		ReceiptURL: s.publicURL("/public/receipts/" + sale.QRToken),
	}
	if branch, err := s.repo.GetBranch(ctx, sale.BranchID); err == nil {
		receipt.BranchName = branch.Name
		receipt.BranchAddress = branch.Address
		receipt.BranchPhone = branch.Phone
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// priceLines merges duplicate product lines and prices each one from the
// current catalog. Client prices are never trusted.
func (s *Service) priceLines(ctx context.Context, lines []domain.SaleLineRequest) ([]domain.SaleItem, int64, error) {
	merged := normalizeLines(lines)
	if len(merged) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one item is required", store.ErrInvalidRequest)
	}

	ids := make([]string, 0, len(merged))
	for _, line := range merged {
		if line.ProductID == "" || line.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: every item needs a product and a positive quantity", store.ErrInvalidRequest)
		}
		if line.Quantity > maxLineQuantity {
			return nil, 0, fmt.Errorf("%w: quantity for %s exceeds %d", store.ErrInvalidRequest, line.ProductID, maxLineQuantity)
		}
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.SaleItem, 0, len(merged))
	total := int64(0)
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: product %s is unavailable", store.ErrInvalidRequest, line.ProductID)
		}
		lineTotal, err := multiplyCents(product.PriceCents, line.Quantity)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, domain.SaleItem{
			ID:             xid.New("si"),
			ProductID:      product.ID,
			ProductName:    product.Name,
			ProductType:    product.Type,
			Quantity:       line.Quantity,
			UnitPriceCents: product.PriceCents,
			TotalCents:     lineTotal,
		})
		if total, err = addCents(total, lineTotal); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// multiplyCents and addCents work on non-negative amounts and reject results
// that do not fit in int64.
func multiplyCents(unit int64, quantity int) (int64, error) {
	if unit > 0 && int64(quantity) > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: amount out of range", store.ErrInvalidRequest)
	}
	return unit * int64(quantity), nil
}

func addCents(a int64, b int64) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, fmt.Errorf("%w: amount out of range", store.ErrInvalidRequest)
	}
	return a + b, nil
}

// branchMechanics dedupes mechanic ids and checks each one is an active
// mechanic of the branch.
func (s *Service) branchMechanics(ctx context.Context, branchID string, ids []string) ([]string, error) {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(result, id) {
			continue
		}
		mechanic, err := s.repo.GetMechanic(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: mechanic %s does not exist", store.ErrInvalidRequest, id)
		}
		if err != nil {
			return nil, err
		}
		if mechanic.BranchID != branchID || !mechanic.Active {
			return nil, fmt.Errorf("%w: mechanic %s is not active in this branch", store.ErrInvalidRequest, id)
		}
		result = append(result, id)
	}
	return result, nil
}

func normalizeLines(lines []domain.SaleLineRequest) []domain.SaleLineRequest {
	order := make([]string, 0, len(lines))
	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if _, seen := quantities[id]; !seen {
			order = append(order, id)
		}
		if line.Quantity < 1 || line.Quantity > maxLineQuantity {
			quantities[id] = -1
			continue
		}
		if quantities[id] >= 0 {
			quantities[id] += line.Quantity
		}
	}

	result := make([]domain.SaleLineRequest, 0, len(order))
	for _, id := range order {
		result = append(result, domain.SaleLineRequest{ProductID: id, Quantity: quantities[id]})
	}
	return result
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentEwallet:
		return true
	default:
		return false
	}
}
