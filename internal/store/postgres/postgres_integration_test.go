package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("BENGKELPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BENGKELPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

type fixture struct {
	branchID   string
	part       *domain.Product
	service    *domain.Product
	mechanicID string
}

// newFixture creates an isolated branch with one stocked part, one service
// and one mechanic, and removes everything under the branch afterwards.
func newFixture(t *testing.T, s *Store, stock int) fixture {
	t.Helper()
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	f := fixture{branchID: fmt.Sprintf("br-it-%d", stamp)}
	partID := fmt.Sprintf("prd-it-%d", stamp)
	serviceID := fmt.Sprintf("svc-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales_returns WHERE branch_id = $1`, f.branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM job_orders WHERE branch_id = $1`, f.branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM reservations WHERE branch_id = $1`, f.branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE branch_id = $1`, f.branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM mechanics WHERE branch_id = $1`, f.branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ANY($1)`, []string{partID, serviceID})
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, f.branchID)
	})

	if _, err := s.CreateBranch(ctx, domain.Branch{ID: f.branchID, Name: "Cabang IT " + f.branchID, Active: true}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	var err error
	f.part, err = s.CreateProduct(ctx, domain.Product{
		ID:         partID,
		SKU:        "SKU-" + partID,
		Name:       "Oli IT",
		Type:       domain.ProductTypeProduct,
		PriceCents: 50000,
	}, []domain.BranchStockInput{{BranchID: f.branchID, Quantity: stock}})
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	f.service, err = s.CreateProduct(ctx, domain.Product{
		ID:         serviceID,
		SKU:        "SKU-" + serviceID,
		Name:       "Servis IT",
		Type:       domain.ProductTypeService,
		PriceCents: 75000,
	}, nil)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	mechanic, err := s.CreateMechanic(ctx, domain.Mechanic{BranchID: f.branchID, Name: "Budi IT"})
	if err != nil {
		t.Fatalf("create mechanic: %v", err)
	}
	f.mechanicID = mechanic.ID
	return f
}

func saleItem(product *domain.Product, qty int) domain.SaleItem {
	return domain.SaleItem{
		ProductID:      product.ID,
		ProductName:    product.Name,
		ProductType:    product.Type,
		Quantity:       qty,
		UnitPriceCents: product.PriceCents,
		TotalCents:     product.PriceCents * int64(qty),
	}
}

func (f fixture) sale(items ...domain.SaleItem) domain.Sale {
	total := int64(0)
	for _, item := range items {
		total += item.TotalCents
	}
	return domain.Sale{
		Number:          xid.New("INV-IT"),
		BranchID:        f.branchID,
		CashierUsername: "it",
		PaymentMethod:   domain.PaymentCash,
		QRToken:         xid.Token(),
		SubtotalCents:   total,
		TotalCents:      total,
		PaidCents:       total,
		Items:           items,
	}
}

func TestSaleDecrementsStockAndRejectsOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	f := newFixture(t, s, 5)

	if _, err := s.CreateSale(ctx, f.sale(saleItem(f.part, 3))); err != nil {
		t.Fatalf("first sale: %v", err)
	}
	if _, err := s.CreateSale(ctx, f.sale(saleItem(f.part, 4))); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	qty, err := s.GetStock(ctx, f.branchID, f.part.ID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if qty != 2 {
		t.Fatalf("expected stock 2 after oversell attempt, got %d", qty)
	}
}

func TestAdjustStockRejectsValuesAboveColumnRange(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	f := newFixture(t, s, 24)

	if _, _, err := s.AdjustStock(ctx, f.branchID, f.part.ID, store.MaxStockQuantity); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected stock above the ceiling to be rejected, got %v", err)
	}
	previous, next, err := s.AdjustStock(ctx, f.branchID, f.part.ID, -100)
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if previous != 24 || next != 0 {
		t.Fatalf("expected 24 clamped to 0, got %d -> %d", previous, next)
	}
}

func TestApproveReturnRecomputesSaleStatus(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	f := newFixture(t, s, 5)

	sale, err := s.CreateSale(ctx, f.sale(saleItem(f.part, 3), saleItem(f.service, 1)))
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	partLine, serviceLine := sale.Items[0], sale.Items[1]

	approve := func(item domain.SaleItem, qty int) *domain.Sale {
		t.Helper()
		ret, err := s.CreateReturn(ctx, domain.SalesReturn{SaleID: sale.ID, SaleItemID: item.ID, Quantity: qty, RequestedBy: "it"})
		if err != nil {
			t.Fatalf("create return: %v", err)
		}
		approved, updated, err := s.ApproveReturn(ctx, ret.ID, "manager", time.Now().UTC())
		if err != nil {
			t.Fatalf("approve return: %v", err)
		}
		if approved.Status != domain.ReturnStatusApproved || approved.ReviewedAt == nil {
			t.Fatalf("unexpected approved return: %+v", approved)
		}
		if _, _, err := s.ApproveReturn(ctx, ret.ID, "manager", time.Now().UTC()); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("expected second approval to conflict, got %v", err)
		}
		return updated
	}

	updated := approve(partLine, 1)
	if updated.Status != domain.SaleStatusPartialReturn || updated.TotalCents != 2*50000+75000 {
		t.Fatalf("after first return: status=%s total=%d", updated.Status, updated.TotalCents)
	}
	updated = approve(partLine, 2)
	if updated.Status != domain.SaleStatusPartialReturn || updated.TotalCents != 75000 {
		t.Fatalf("after part returns: status=%s total=%d", updated.Status, updated.TotalCents)
	}
	if qty, _ := s.GetStock(ctx, f.branchID, f.part.ID); qty != 5 {
		t.Fatalf("expected returned parts back in stock, got %d", qty)
	}

	if _, err := s.CreateReturn(ctx, domain.SalesReturn{SaleID: sale.ID, SaleItemID: partLine.ID, Quantity: 1}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected return beyond sold quantity to be rejected, got %v", err)
	}

	updated = approve(serviceLine, 1)
	if updated.Status != domain.SaleStatusReturned || updated.TotalCents != 0 {
		t.Fatalf("after full return: status=%s total=%d", updated.Status, updated.TotalCents)
	}
	if qty, _ := s.GetStock(ctx, f.branchID, f.part.ID); qty != 5 {
		t.Fatalf("service return must not touch stock, got %d", qty)
	}
}

func TestJobOrderLaborCreditFollowsStoredRow(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	f := newFixture(t, s, 5)

	other, err := s.CreateMechanic(ctx, domain.Mechanic{BranchID: f.branchID, Name: "Andi IT"})
	if err != nil {
		t.Fatalf("create mechanic: %v", err)
	}
	earned := func(id string) int64 {
		t.Helper()
		mechanic, err := s.GetMechanic(ctx, id)
		if err != nil {
			t.Fatalf("get mechanic: %v", err)
		}
		return mechanic.TotalLaborEarnedCents
	}

	job, err := s.CreateJobOrder(ctx, domain.JobOrder{
		Number:         xid.New("JO-IT"),
		BranchID:       f.branchID,
		MechanicID:     f.mechanicID,
		CustomerName:   "Sari",
		VehiclePlate:   "B 1234 IT",
		Status:         domain.JobStatusPending,
		LaborCostCents: 150000,
		TotalCostCents: 150000,
		QRToken:        xid.Token(),
	})
	if err != nil {
		t.Fatalf("create job order: %v", err)
	}
	if got := earned(f.mechanicID); got != 0 {
		t.Fatalf("pending job must not credit, got %d", got)
	}

	update := func(mutate func(*domain.JobOrder)) {
		t.Helper()
		current, err := s.GetJobOrder(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job order: %v", err)
		}
		mutate(current)
		if _, err := s.UpdateJobOrder(ctx, *current); err != nil {
			t.Fatalf("update job order: %v", err)
		}
	}
	complete := func(j *domain.JobOrder) {
		now := time.Now().UTC()
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = &now
	}

	update(complete)
	update(complete)
	if got := earned(f.mechanicID); got != 150000 {
		t.Fatalf("expected a single credit of 150000, got %d", got)
	}

	update(func(j *domain.JobOrder) { j.LaborCostCents = 200000 })
	if got := earned(f.mechanicID); got != 200000 {
		t.Fatalf("expected credit to follow labor edit, got %d", got)
	}

	update(func(j *domain.JobOrder) { j.MechanicID = other.ID })
	if got, moved := earned(f.mechanicID), earned(other.ID); got != 0 || moved != 200000 {
		t.Fatalf("expected credit to move with the mechanic, got %d and %d", got, moved)
	}

	update(func(j *domain.JobOrder) {
		j.Status = domain.JobStatusInProgress
		j.CompletedAt = nil
	})
	if got := earned(other.ID); got != 0 {
		t.Fatalf("expected reopened job to withdraw credit, got %d", got)
	}
}

func TestCompleteReservationCreatesLinkedSale(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	f := newFixture(t, s, 5)

	reserve := func(partQty int) *domain.Reservation {
		t.Helper()
		items := []domain.ReservationItem{
			{ProductID: f.part.ID, ProductName: f.part.Name, ProductType: f.part.Type, Quantity: partQty, UnitPriceCents: f.part.PriceCents, TotalCents: f.part.PriceCents * int64(partQty)},
			{ProductID: f.service.ID, ProductName: f.service.Name, ProductType: f.service.Type, Quantity: 1, UnitPriceCents: f.service.PriceCents, TotalCents: f.service.PriceCents},
		}
		reservation, err := s.CreateReservation(ctx, domain.Reservation{
			Number:       xid.New("RSV-IT"),
			BranchID:     f.branchID,
			CustomerName: "Rina",
			ScheduledAt:  time.Now().Add(24 * time.Hour).UTC(),
			TotalCents:   items[0].TotalCents + items[1].TotalCents,
			QRToken:      xid.Token(),
			CreatedBy:    "it",
			MechanicIDs:  []string{f.mechanicID},
			Items:        items,
		})
		if err != nil {
			t.Fatalf("create reservation: %v", err)
		}
		return reservation
	}
	header := func() domain.Sale {
		return domain.Sale{Number: xid.New("INV-IT"), CashierUsername: "it", PaymentMethod: domain.PaymentTransfer, QRToken: xid.Token()}
	}

	reservation := reserve(2)
	completed, sale, err := s.CompleteReservation(ctx, reservation.ID, header())
	if err != nil {
		t.Fatalf("complete reservation: %v", err)
	}
	if completed.Status != domain.ReservationStatusCompleted || completed.SaleID != sale.ID || sale.ReservationID != reservation.ID {
		t.Fatalf("reservation and sale not linked: %+v / %+v", completed, sale)
	}
	if sale.BranchID != f.branchID || sale.TotalCents != reservation.TotalCents || len(sale.Items) != 2 {
		t.Fatalf("unexpected sale: %+v", sale)
	}
	if qty, _ := s.GetStock(ctx, f.branchID, f.part.ID); qty != 3 {
		t.Fatalf("expected reserved parts to leave stock, got %d", qty)
	}

	stored, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(stored.MechanicIDs) != 1 || stored.MechanicIDs[0] != f.mechanicID {
		t.Fatalf("expected reservation mechanics on the sale, got %v", stored.MechanicIDs)
	}
	if _, _, err := s.CompleteReservation(ctx, reservation.ID, header()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second completion to conflict, got %v", err)
	}

	short := reserve(10)
	if _, _, err := s.CompleteReservation(ctx, short.ID, header()); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	again, err := s.GetReservation(ctx, short.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if again.Status != domain.ReservationStatusPending || again.SaleID != "" {
		t.Fatalf("failed completion must leave the reservation pending: %+v", again)
	}
}
