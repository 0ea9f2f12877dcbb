package analytics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"bengkelpos/backend/internal/domain"
)

type stubSource struct {
	sales     []domain.Sale
	returns   []domain.SalesReturn
	saleCalls int
}

func (s *stubSource) ListSales(_ context.Context, _ domain.SaleFilter) ([]domain.Sale, int, error) {
	s.saleCalls++
	return s.sales, len(s.sales), nil
}

func (s *stubSource) ListReturns(_ context.Context, _ domain.ReturnFilter) ([]domain.SalesReturn, error) {
	return s.returns, nil
}

func (s *stubSource) ListJobOrders(_ context.Context, _ domain.JobOrderFilter) ([]domain.JobOrder, error) {
	return nil, nil
}

func (s *stubSource) ListReservations(_ context.Context, _ domain.ReservationFilter) ([]domain.Reservation, error) {
	return nil, nil
}

type mapCache struct {
	values map[string]domain.SalesSummary
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.SalesSummary, bool, error) {
	v, ok := c.values[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.SalesSummary, _ time.Duration) error {
	c.values[key] = *value
	return nil
}

func sampleSales() ([]domain.Sale, []domain.SalesReturn) {
	sales := []domain.Sale{
		{
			ID: "s1", PaymentMethod: domain.PaymentCash, TotalCents: 80_000,
			Items: []domain.SaleItem{
				{ID: "i1", ProductID: "oil", ProductName: "Oli", ProductType: domain.ProductTypeProduct, Quantity: 2, TotalCents: 60_000},
				{ID: "i2", ProductID: "svc", ProductName: "Servis", ProductType: domain.ProductTypeService, Quantity: 1, TotalCents: 50_000},
			},
		},
		{
			ID: "s2", PaymentMethod: domain.PaymentCard, TotalCents: 30_000,
			Items: []domain.SaleItem{
				{ID: "i3", ProductID: "oil", ProductName: "Oli", ProductType: domain.ProductTypeProduct, Quantity: 1, TotalCents: 30_000},
			},
		},
	}
	returns := []domain.SalesReturn{
		{ID: "r1", SaleID: "s1", SaleItemID: "i1", ProductID: "oil", Quantity: 1, AmountCents: 30_000, Status: domain.ReturnStatusApproved},
		{ID: "r2", SaleID: "other", ProductID: "oil", Quantity: 5, AmountCents: 150_000, Status: domain.ReturnStatusApproved},
		{ID: "r3", SaleID: "s2", ProductID: "oil", Quantity: 1, AmountCents: 30_000, Status: domain.ReturnStatusPending},
	}
	return sales, returns
}

func TestSummarizeNetsApprovedReturns(t *testing.T) {
	sales, returns := sampleSales()
	jobs := []domain.JobOrder{
		{Status: domain.JobStatusCompleted, LaborCostCents: 100, PartsCostCents: 40},
		{Status: domain.JobStatusPending, LaborCostCents: 999},
	}

	summary := Summarize(sales, returns, jobs, []domain.Reservation{{Status: domain.ReservationStatusPending}})

	if summary.SalesCount != 2 || summary.NetCents != 110_000 {
		t.Fatalf("unexpected totals: count=%d net=%d", summary.SalesCount, summary.NetCents)
	}
	if summary.ReturnedCents != 30_000 || summary.GrossCents != 140_000 {
		t.Fatalf("expected only in-scope approved returns, got returned=%d gross=%d", summary.ReturnedCents, summary.GrossCents)
	}
	if summary.ItemsSold != 3 || summary.ServicesSold != 1 {
		t.Fatalf("unexpected item counts: %d/%d", summary.ItemsSold, summary.ServicesSold)
	}
	if len(summary.ByPayment) != 2 || summary.ByPayment[0].PaymentMethod != domain.PaymentCard {
		t.Fatalf("expected payment breakdown sorted by method, got %+v", summary.ByPayment)
	}
	if summary.TopProducts[0].ProductID != "oil" || summary.TopProducts[0].Quantity != 2 {
		t.Fatalf("expected oil net quantity 2 on top, got %+v", summary.TopProducts[0])
	}
	if summary.JobOrders.LaborCents != 100 || summary.JobOrders.ByStatus[domain.JobStatusPending] != 1 {
		t.Fatalf("unexpected job stats: %+v", summary.JobOrders)
	}
	if summary.Reservations[domain.ReservationStatusPending] != 1 {
		t.Fatalf("unexpected reservation counts: %+v", summary.Reservations)
	}
}

func TestSummaryUsesCache(t *testing.T) {
	sales, returns := sampleSales()
	source := &stubSource{sales: sales, returns: returns}
	engine := NewEngine(source, &mapCache{values: map[string]domain.SalesSummary{}}, time.Minute)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	first, err := engine.Summary(context.Background(), "br-main", from, to)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	second, err := engine.Summary(context.Background(), "br-main", from, to)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if source.saleCalls != 1 {
		t.Fatalf("expected cached second call, source hit %d times", source.saleCalls)
	}
	if first.NetCents != second.NetCents || second.BranchID != "br-main" {
		t.Fatalf("cached summary differs: %+v vs %+v", first, second)
	}

	if _, err := engine.Summary(context.Background(), "br-south", from, to); err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if source.saleCalls != 2 {
		t.Fatalf("expected a separate cache entry per branch")
	}
}

func TestWorkbookSheets(t *testing.T) {
	sales, returns := sampleSales()
	summary := Summarize(sales, returns, nil, nil)

	content, err := Workbook(summary)
	if err != nil {
		t.Fatalf("workbook failed: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("open workbook failed: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != "Summary" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	rows, err := f.GetRows("Top Products")
	if err != nil {
		t.Fatalf("read rows failed: %v", err)
	}
	if len(rows) != 1+len(summary.TopProducts) {
		t.Fatalf("expected header plus %d rows, got %d", len(summary.TopProducts), len(rows))
	}
}
