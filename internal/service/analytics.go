package service

import (
	"context"
	"fmt"
	"time"

	"bengkelpos/backend/internal/analytics"
	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

const defaultSummaryWindow = 30 * 24 * time.Hour

func (s *Service) SalesSummary(ctx context.Context, branchID string, from time.Time, to time.Time) (domain.SalesSummary, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	branchID, err = scopeBranch(actor, branchID)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	from, to, err = summaryRange(from, to, time.Now().UTC())
	if err != nil {
		return domain.SalesSummary{}, err
	}
	return s.analytics.Summary(ctx, branchID, from, to)
}

func (s *Service) SalesSummaryWorkbook(ctx context.Context, branchID string, from time.Time, to time.Time) ([]byte, error) {
	summary, err := s.SalesSummary(ctx, branchID, from, to)
	if err != nil {
		return nil, err
	}
	content, err := analytics.Workbook(summary)
	if err != nil {
		return nil, fmt.Errorf("build workbook: %w", err)
	}

	s.logAudit(ctx, summary.BranchID, "analytics_export", "report", "sales_summary", fmt.Sprintf("from=%s,to=%s", summary.From, summary.To))
	return content, nil
}

// summaryRange fills in missing bounds: the window ends at the start of the
// next minute and spans 30 days. Whole-minute bounds keep the cache key stable
// for repeated dashboard calls.
func summaryRange(from time.Time, to time.Time, now time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = now.Truncate(time.Minute).Add(time.Minute)
	}
	if from.IsZero() {
		from = to.Add(-defaultSummaryWindow)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from must be before to", store.ErrInvalidRequest)
	}
	return from.UTC(), to.UTC(), nil
}
