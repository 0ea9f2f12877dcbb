package analytics

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/cache"
	"bengkelpos/backend/internal/domain"
)

const topProductLimit = 10

// Source is the read side of the repository the engine aggregates over.
type Source interface {
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.SalesReturn, error)
	ListJobOrders(ctx context.Context, filter domain.JobOrderFilter) ([]domain.JobOrder, error)
	ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error)
}

type Engine struct {
	source   Source
	cache    cache.SummaryCache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewEngine(source Source, cacheStore cache.SummaryCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Summary aggregates sales, returns, job orders and reservations created in
// [from, to). An empty branchID covers every branch.
func (e *Engine) Summary(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	cacheKey := buildCacheKey(branchID, from, to)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("analytics cache read failed")
	}

	sales, _, err := e.source.ListSales(ctx, domain.SaleFilter{BranchID: branchID, From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	returns, err := e.source.ListReturns(ctx, domain.ReturnFilter{BranchID: branchID, Status: domain.ReturnStatusApproved})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	jobs, err := e.source.ListJobOrders(ctx, domain.JobOrderFilter{BranchID: branchID, From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	reservations, err := e.source.ListReservations(ctx, domain.ReservationFilter{BranchID: branchID, From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := Summarize(sales, returns, jobs, reservations)
	summary.BranchID = branchID
	summary.From = from.UTC().Format(time.RFC3339)
	summary.To = to.UTC().Format(time.RFC3339)
	summary.GeneratedAt = e.now().UTC().Format(time.RFC3339)

	if err := e.cache.Set(ctx, cacheKey, &summary, e.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", cacheKey).Msg("analytics cache write failed")
	}
	return summary, nil
}

// Summarize folds the given rows into a summary. Returns are only counted
// when they belong to one of the sales.
func Summarize(sales []domain.Sale, returns []domain.SalesReturn, jobs []domain.JobOrder, reservations []domain.Reservation) domain.SalesSummary {
	summary := domain.SalesSummary{
		ByPayment:    []domain.PaymentBreakdown{},
		TopProducts:  []domain.ProductSales{},
		JobOrders:    domain.JobOrderStats{ByStatus: map[string]int{}},
		Reservations: map[string]int{},
	}

	saleIDs := make(map[string]struct{}, len(sales))
	payments := map[string]*domain.PaymentBreakdown{}
	products := map[string]*domain.ProductSales{}
	for _, sale := range sales {
		saleIDs[sale.ID] = struct{}{}
		summary.SalesCount++
		summary.NetCents += sale.TotalCents

		payment, ok := payments[sale.PaymentMethod]
		if !ok {
			payment = &domain.PaymentBreakdown{PaymentMethod: sale.PaymentMethod}
			payments[sale.PaymentMethod] = payment
		}
		payment.Sales++
		payment.TotalCents += sale.TotalCents

		for _, item := range sale.Items {
			if item.ProductType == domain.ProductTypeService {
				summary.ServicesSold += item.Quantity
			} else {
				summary.ItemsSold += item.Quantity
			}
			line, ok := products[item.ProductID]
			if !ok {
				line = &domain.ProductSales{ProductID: item.ProductID, ProductName: item.ProductName, ProductType: item.ProductType}
				products[item.ProductID] = line
			}
			line.Quantity += item.Quantity
			line.TotalCents += item.TotalCents
		}
	}

	for _, ret := range returns {
		if _, ok := saleIDs[ret.SaleID]; !ok || ret.Status != domain.ReturnStatusApproved {
			continue
		}
		summary.ReturnedCents += ret.AmountCents
		if line, ok := products[ret.ProductID]; ok {
			line.Quantity -= ret.Quantity
			line.TotalCents -= ret.AmountCents
		}
	}
	summary.GrossCents = summary.NetCents + summary.ReturnedCents

	for _, payment := range payments {
		summary.ByPayment = append(summary.ByPayment, *payment)
	}
	sort.Slice(summary.ByPayment, func(i, j int) bool {
		return summary.ByPayment[i].PaymentMethod < summary.ByPayment[j].PaymentMethod
	})

	for _, line := range products {
		if line.Quantity > 0 {
			summary.TopProducts = append(summary.TopProducts, *line)
		}
	}
	sort.Slice(summary.TopProducts, func(i, j int) bool {
		a, b := summary.TopProducts[i], summary.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		return a.ProductName < b.ProductName
	})
	if len(summary.TopProducts) > topProductLimit {
		summary.TopProducts = summary.TopProducts[:topProductLimit]
	}

	for _, job := range jobs {
		summary.JobOrders.ByStatus[job.Status]++
		if job.Status == domain.JobStatusCompleted {
			summary.JobOrders.LaborCents += job.LaborCostCents
			summary.JobOrders.PartsCents += job.PartsCostCents
		}
	}
	for _, reservation := range reservations {
		summary.Reservations[reservation.Status]++
	}

	return summary
}

func buildCacheKey(branchID string, from time.Time, to time.Time) string {
	parts := []string{branchID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)}
	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
