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

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.insertSaleLocked(sale)
	if err != nil {
		return nil, err
	}
	return cloneSale(created), nil
}

// insertSaleLocked checks every product-type line against branch stock before
// touching anything, so a shortfall leaves the store unchanged.
func (s *Store) insertSaleLocked(sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, ok := s.branches[sale.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, sale.BranchID)
	}
	if sale.ClientRef != "" {
		if _, exists := s.saleIDByRef[sale.ClientRef]; exists {
			return nil, fmt.Errorf("%w: client reference %s already synced", store.ErrConflict, sale.ClientRef)
		}
	}
	for _, mechanicID := range sale.MechanicIDs {
		if _, ok := s.mechanicsByID[mechanicID]; !ok {
			return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, mechanicID)
		}
	}

	branchStock := s.branchStockLocked(sale.BranchID)
	required := map[string]int{}
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		if _, ok := s.products[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if item.ProductType == domain.ProductTypeProduct {
			required[item.ProductID] += item.Quantity
		}
	}
	for _, item := range sale.Items {
		if need, ok := required[item.ProductID]; ok && branchStock[item.ProductID] < need {
			return nil, fmt.Errorf("%w: %s has %d left, %d requested", store.ErrInsufficientStock, item.ProductName, branchStock[item.ProductID], need)
		}
	}
	for productID, need := range required {
		branchStock[productID] -= need
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		item.SaleID = sale.ID
		items[i] = item
	}
	sale.Items = items
	sale.MechanicIDs = slices.Clone(sale.MechanicIDs)

	stored := &sale
	s.salesByID[sale.ID] = stored
	s.saleIDByToken[sale.QRToken] = sale.ID
	if sale.ClientRef != "" {
		s.saleIDByRef[sale.ClientRef] = sale.ID
	}
	return stored, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByToken(_ context.Context, token string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByToken[token]
	if !ok || token == "" {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) FindSaleByClientRef(_ context.Context, clientRef string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByRef[clientRef]
	if !ok || clientRef == "" {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if filter.BranchID != "" && sale.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !inRange(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		matched = append(matched, *cloneSale(sale))
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	total := len(matched)
	if filter.Limit > 0 {
		page := max(filter.Page, 1)
		start := min((page-1)*filter.Limit, total)
		end := min(start+filter.Limit, total)
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.SalesReturn) (*domain.SalesReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[ret.SaleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, ret.SaleID)
	}
	item, ok := findSaleItem(sale, ret.SaleItemID)
	if !ok {
		return nil, fmt.Errorf("%w: sale item %s", store.ErrNotFound, ret.SaleItemID)
	}
	if ret.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}
	claimed := s.returnedQtyLocked(item.ID, "", domain.ReturnStatusApproved, domain.ReturnStatusPending)
	if remaining := item.Quantity - claimed; ret.Quantity > remaining {
		return nil, fmt.Errorf("%w: return quantity %d exceeds remaining %d", store.ErrInvalidRequest, ret.Quantity, remaining)
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	ret.BranchID = sale.BranchID
	ret.ProductID = item.ProductID
	ret.ProductName = item.ProductName
	ret.ProductType = item.ProductType
	ret.AmountCents = item.UnitPriceCents * int64(ret.Quantity)
	ret.Status = domain.ReturnStatusPending
	s.returnsByID[ret.ID] = ret
	return &ret, nil
}

func (s *Store) GetReturn(_ context.Context, id string) (*domain.SalesReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ret, nil
}

func (s *Store) ListReturns(_ context.Context, filter domain.ReturnFilter) ([]domain.SalesReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesReturn, 0, len(s.returnsByID))
	for _, ret := range s.returnsByID {
		if filter.BranchID != "" && ret.BranchID != filter.BranchID {
			continue
		}
		if filter.SaleID != "" && ret.SaleID != filter.SaleID {
			continue
		}
		if filter.Status != "" && ret.Status != filter.Status {
			continue
		}
		result = append(result, ret)
	}
	slices.SortFunc(result, func(a, b domain.SalesReturn) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) ApproveReturn(_ context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, *domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if ret.Status != domain.ReturnStatusPending {
		return nil, nil, fmt.Errorf("%w: return is already %s", store.ErrConflict, ret.Status)
	}
	sale, ok := s.salesByID[ret.SaleID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, ret.SaleID)
	}
	item, ok := findSaleItem(sale, ret.SaleItemID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: sale item %s", store.ErrNotFound, ret.SaleItemID)
	}
	approved := s.returnedQtyLocked(item.ID, ret.ID, domain.ReturnStatusApproved)
	if approved+ret.Quantity > item.Quantity {
		return nil, nil, fmt.Errorf("%w: return quantity %d exceeds remaining %d", store.ErrInvalidRequest, ret.Quantity, item.Quantity-approved)
	}

	if item.ProductType == domain.ProductTypeProduct {
		s.branchStockLocked(sale.BranchID)[item.ProductID] += ret.Quantity
	}

	ret.Status = domain.ReturnStatusApproved
	ret.ReviewedBy = reviewer
	reviewedAt := at
	ret.ReviewedAt = &reviewedAt
	s.returnsByID[ret.ID] = ret

	sale.SubtotalCents = max(0, sale.SubtotalCents-ret.AmountCents)
	sale.TotalCents = max(0, sale.TotalCents-ret.AmountCents)
	sold, returned := 0, 0
	for _, saleItem := range sale.Items {
		sold += saleItem.Quantity
		returned += s.returnedQtyLocked(saleItem.ID, "", domain.ReturnStatusApproved)
	}
	sale.Status = domain.SaleStatusForReturns(sold, returned)

	return &ret, cloneSale(sale), nil
}

func (s *Store) RejectReturn(_ context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if ret.Status != domain.ReturnStatusPending {
		return nil, fmt.Errorf("%w: return is already %s", store.ErrConflict, ret.Status)
	}
	ret.Status = domain.ReturnStatusRejected
	ret.ReviewedBy = reviewer
	reviewedAt := at
	ret.ReviewedAt = &reviewedAt
	s.returnsByID[ret.ID] = ret
	return &ret, nil
}

// returnedQtyLocked sums the quantity of returns on a sale item whose status
// is one of statuses, skipping exceptID.
func (s *Store) returnedQtyLocked(saleItemID string, exceptID string, statuses ...string) int {
	total := 0
	for _, ret := range s.returnsByID {
		if ret.SaleItemID != saleItemID || ret.ID == exceptID {
			continue
		}
		if slices.Contains(statuses, ret.Status) {
			total += ret.Quantity
		}
	}
	return total
}

func findSaleItem(sale *domain.Sale, itemID string) (domain.SaleItem, bool) {
	for _, item := range sale.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return domain.SaleItem{}, false
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.MechanicIDs = slices.Clone(src.MechanicIDs)
	return &dup
}
