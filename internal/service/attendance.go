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

const workDateLayout = "2006-01-02"

func (s *Service) ClockIn(ctx context.Context, req domain.ClockRequest) (domain.Attendance, error) {
	user, err := s.attendingUser(ctx)
	if err != nil {
		return domain.Attendance{}, err
	}

	now := time.Now().UTC()
	created, err := s.repo.ClockIn(ctx, domain.Attendance{
		ID:       xid.New("att"),
		UserID:   user.ID,
		Username: user.Username,
		BranchID: user.BranchID,
		WorkDate: now.Format(workDateLayout),
		ClockIn:  now,
		Notes:    strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.Attendance{}, err
	}

	s.logAudit(ctx, created.BranchID, "attendance_clock_in", "attendance", created.ID, "date="+created.WorkDate)
	return *created, nil
}

func (s *Service) ClockOut(ctx context.Context, req domain.ClockRequest) (domain.Attendance, error) {
	user, err := s.attendingUser(ctx)
	if err != nil {
		return domain.Attendance{}, err
	}

	now := time.Now().UTC()
	updated, err := s.repo.ClockOut(ctx, user.ID, now.Format(workDateLayout), now, strings.TrimSpace(req.Notes))
	if err != nil {
		return domain.Attendance{}, err
	}

	s.logAudit(ctx, updated.BranchID, "attendance_clock_out", "attendance", updated.ID, "date="+updated.WorkDate)
	return *updated, nil
}

// ListAttendance shows managers their branch roster; other roles only see
// their own records.
func (s *Service) ListAttendance(ctx context.Context, filter domain.AttendanceFilter) ([]domain.Attendance, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	for _, date := range []string{filter.From, filter.To} {
		if date == "" {
			continue
		}
		if _, err := time.Parse(workDateLayout, date); err != nil {
			return nil, fmt.Errorf("%w: dates must use YYYY-MM-DD", store.ErrInvalidRequest)
		}
	}

	filter.BranchID, err = scopeBranch(actor, filter.BranchID)
	if err != nil {
		return nil, err
	}
	if !actor.IsManager() {
		user, err := s.repo.GetUserByUsername(ctx, actor.Username)
		if err != nil {
			return nil, err
		}
		filter.UserID = user.ID
	}
	return s.repo.ListAttendance(ctx, filter)
}

func (s *Service) attendingUser(ctx context.Context) (*domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return nil, err
	}
	if user.BranchID == "" {
		return nil, fmt.Errorf("%w: attendance requires a branch assignment", store.ErrInvalidRequest)
	}
	return user, nil
}
