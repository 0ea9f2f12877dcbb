package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/store/memory"
)

func TestManagerCreatesCashierInOwnBranchOnly(t *testing.T) {
	svc, repo := newTestService()

	user, err := svc.CreateUser(managerCtx(), domain.UserCreateRequest{
		Username: "Kasir.Baru",
		Password: "rahasia123",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "kasir.baru" || user.Role != domain.RoleCashier || user.BranchID != memory.MainBranchID {
		t.Fatalf("unexpected user: %+v", user)
	}

	stored, err := repo.GetUserByUsername(context.Background(), "kasir.baru")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("rahasia123")); err != nil {
		t.Fatalf("expected bcrypt hash to match password: %v", err)
	}

	_, err = svc.CreateUser(managerCtx(), domain.UserCreateRequest{Username: "kasir.baru", Password: "rahasia123"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate username conflict, got %v", err)
	}
	_, err = svc.CreateUser(managerCtx(), domain.UserCreateRequest{Username: "boss2", Password: "rahasia123", Role: domain.RoleManager})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected manager creating manager to be forbidden, got %v", err)
	}
	_, err = svc.CreateUser(managerCtx(), domain.UserCreateRequest{Username: "kasir.sel", Password: "rahasia123", BranchID: memory.SouthBranchID})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cross-branch create to be forbidden, got %v", err)
	}
	_, err = svc.CreateUser(cashierCtx(), domain.UserCreateRequest{Username: "kasir.lain", Password: "rahasia123"})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier create to be forbidden, got %v", err)
	}
}

func TestAdminUserRulesAndUpdate(t *testing.T) {
	svc, repo := newTestService()
	ctx := adminCtx()

	_, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "manajer.sel", Password: "rahasia123", Role: domain.RoleManager})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected branch to be required, got %v", err)
	}
	_, err = svc.CreateUser(ctx, domain.UserCreateRequest{Username: "abc", Password: "rahasia123", BranchID: memory.MainBranchID})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected short username to be rejected, got %v", err)
	}

	created, err := svc.CreateUser(ctx, domain.UserCreateRequest{
		Username: "manajer.sel", Password: "rahasia123", Role: domain.RoleManager, BranchID: memory.SouthBranchID,
	})
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	before, _ := repo.GetUser(context.Background(), created.ID)

	active := false
	updated, err := svc.UpdateUser(ctx, created.ID, domain.UserUpdateRequest{Active: &active})
	if err != nil {
		t.Fatalf("update user failed: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected user to be deactivated")
	}
	after, _ := repo.GetUser(context.Background(), created.ID)
	if after.PasswordHash != before.PasswordHash {
		t.Fatalf("password hash must survive updates without a new password")
	}

	if _, err := svc.UpdateUser(managerCtx(), created.ID, domain.UserUpdateRequest{Active: &active}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected manager editing a manager to be forbidden, got %v", err)
	}

	self, err := repo.GetUserByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("lookup admin failed: %v", err)
	}
	if _, err := svc.UpdateUser(ctx, self.ID, domain.UserUpdateRequest{Active: &active}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected self deactivation to conflict, got %v", err)
	}
}

func TestRoleLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := adminCtx()

	if _, err := svc.CreateRole(ctx, domain.RoleCreateRequest{Name: "Bad Role!"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid role name, got %v", err)
	}
	role, err := svc.CreateRole(ctx, domain.RoleCreateRequest{Name: "gudang", Label: "Staf Gudang"})
	if err != nil {
		t.Fatalf("create role failed: %v", err)
	}
	if _, err := svc.CreateRole(ctx, domain.RoleCreateRequest{Name: "gudang"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate role conflict, got %v", err)
	}

	user, err := svc.CreateUser(ctx, domain.UserCreateRequest{
		Username: "staf.gudang", Password: "rahasia123", Role: role.Name, BranchID: memory.MainBranchID,
	})
	if err != nil {
		t.Fatalf("create user with custom role failed: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.Name); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected role in use to conflict, got %v", err)
	}

	cashier := domain.RoleCashier
	if _, err := svc.UpdateUser(ctx, user.ID, domain.UserUpdateRequest{Role: &cashier}); err != nil {
		t.Fatalf("reassign role failed: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.Name); err != nil {
		t.Fatalf("delete role failed: %v", err)
	}
	if err := svc.DeleteRole(ctx, domain.RoleCashier); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected built-in role delete to conflict, got %v", err)
	}
}

func TestMyMenusUnionsUserAndBranchMenus(t *testing.T) {
	svc, _ := newTestService()

	all, err := svc.MyMenus(adminCtx())
	if err != nil {
		t.Fatalf("admin menus failed: %v", err)
	}
	cashier, err := svc.MyMenus(cashierCtx())
	if err != nil {
		t.Fatalf("cashier menus failed: %v", err)
	}
	manager, err := svc.MyMenus(managerCtx())
	if err != nil {
		t.Fatalf("manager menus failed: %v", err)
	}

	if len(cashier) != 6 {
		t.Fatalf("expected 6 branch menus for cashier, got %d", len(cashier))
	}
	if len(manager) != 10 {
		t.Fatalf("expected 10 menus for manager, got %d", len(manager))
	}
	if len(all) <= len(manager) {
		t.Fatalf("expected admin to see every menu, got %d", len(all))
	}
	for i := 1; i < len(manager); i++ {
		if manager[i-1].SortOrder > manager[i].SortOrder {
			t.Fatalf("menus not sorted: %s before %s", manager[i-1].Key, manager[i].Key)
		}
	}

	cashierUser, err := svc.ListUsers(managerCtx(), "")
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var cashierID string
	for _, u := range cashierUser {
		if u.Username == "cashier" {
			cashierID = u.ID
		}
	}
	if err := svc.SetUserMenus(managerCtx(), cashierID, domain.MenuAssignRequest{MenuIDs: []string{"menu-products"}}); err != nil {
		t.Fatalf("set user menus failed: %v", err)
	}
	cashier, err = svc.MyMenus(cashierCtx())
	if err != nil {
		t.Fatalf("cashier menus failed: %v", err)
	}
	if len(cashier) != 7 {
		t.Fatalf("expected 7 menus after assignment, got %d", len(cashier))
	}
}

func TestAttendanceClockInOut(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	in, err := svc.ClockIn(ctx, domain.ClockRequest{Notes: "shift pagi"})
	if err != nil {
		t.Fatalf("clock in failed: %v", err)
	}
	if in.WorkDate != time.Now().UTC().Format("2006-01-02") || in.BranchID != memory.MainBranchID {
		t.Fatalf("unexpected attendance: %+v", in)
	}
	if _, err := svc.ClockIn(ctx, domain.ClockRequest{}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second clock in to conflict, got %v", err)
	}

	out, err := svc.ClockOut(ctx, domain.ClockRequest{})
	if err != nil {
		t.Fatalf("clock out failed: %v", err)
	}
	if out.ClockOut == nil {
		t.Fatalf("expected clock out time")
	}
	if _, err := svc.ClockOut(ctx, domain.ClockRequest{}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected second clock out to conflict, got %v", err)
	}
	if _, err := svc.ClockOut(managerCtx(), domain.ClockRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected clock out without clock in to be not found, got %v", err)
	}
	if _, err := svc.ClockIn(adminCtx(), domain.ClockRequest{}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected branchless admin to be rejected, got %v", err)
	}

	if _, err := svc.ClockIn(managerCtx(), domain.ClockRequest{}); err != nil {
		t.Fatalf("manager clock in failed: %v", err)
	}
	own, err := svc.ListAttendance(ctx, domain.AttendanceFilter{})
	if err != nil {
		t.Fatalf("list attendance failed: %v", err)
	}
	if len(own) != 1 || own[0].Username != "cashier" {
		t.Fatalf("expected cashier to see only own record, got %+v", own)
	}
	roster, err := svc.ListAttendance(managerCtx(), domain.AttendanceFilter{})
	if err != nil {
		t.Fatalf("list roster failed: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 records for branch roster, got %d", len(roster))
	}
	if _, err := svc.ListAttendance(managerCtx(), domain.AttendanceFilter{From: "yesterday"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}

func TestSalesSummaryAndWorkbook(t *testing.T) {
	svc, _ := newTestService()
	sale := mustSell(t, svc, cashierCtx(),
		domain.SaleLineRequest{ProductID: memory.ProductOilID, Quantity: 2},
		domain.SaleLineRequest{ProductID: memory.ServiceTuneUpID, Quantity: 1},
	)
	ret, err := svc.RequestReturn(cashierCtx(), domain.ReturnCreateRequest{
		SaleID: sale.ID, SaleItemID: sale.Items[0].ID, Quantity: 1, Reason: "damaged",
	})
	if err != nil {
		t.Fatalf("request return failed: %v", err)
	}
	if _, err := svc.ApproveReturn(managerCtx(), ret.ID); err != nil {
		t.Fatalf("approve return failed: %v", err)
	}

	if _, err := svc.SalesSummary(cashierCtx(), "", time.Time{}, time.Time{}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier summary to be forbidden, got %v", err)
	}
	now := time.Now().UTC()
	if _, err := svc.SalesSummary(managerCtx(), "", now, now.Add(-time.Hour)); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected inverted range to be rejected, got %v", err)
	}

	summary, err := svc.SalesSummary(managerCtx(), "", time.Time{}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.BranchID != memory.MainBranchID || summary.SalesCount != 1 {
		t.Fatalf("unexpected summary scope: %+v", summary)
	}
	if summary.ReturnedCents != 5_500_000 || summary.NetCents != sale.TotalCents-5_500_000 {
		t.Fatalf("unexpected return math: returned=%d net=%d", summary.ReturnedCents, summary.NetCents)
	}
	if summary.GrossCents != summary.NetCents+summary.ReturnedCents {
		t.Fatalf("gross must equal net plus returns")
	}

	content, err := svc.SalesSummaryWorkbook(managerCtx(), "", time.Time{}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("workbook failed: %v", err)
	}
	if !bytes.HasPrefix(content, []byte("PK")) {
		t.Fatalf("expected xlsx zip payload")
	}
}

func TestSummaryRangeDefaults(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 31, 12, 1, 0, 0, time.UTC)

	from, to, err := summaryRange(time.Time{}, time.Time{}, now)
	if err != nil {
		t.Fatalf("summary range failed: %v", err)
	}
	if !to.Equal(end) || !from.Equal(end.Add(-30*24*time.Hour)) {
		t.Fatalf("unexpected default range %s - %s", from, to)
	}

	// Calls within the same minute share one window.
	for _, at := range []time.Time{now.Add(15 * time.Second), now.Add(59*time.Second + 999*time.Millisecond)} {
		gotFrom, gotTo, err := summaryRange(time.Time{}, time.Time{}, at)
		if err != nil {
			t.Fatalf("summary range failed: %v", err)
		}
		if !gotFrom.Equal(from) || !gotTo.Equal(to) {
			t.Fatalf("expected stable window for %s, got %s - %s", at, gotFrom, gotTo)
		}
	}
	if _, next, _ := summaryRange(time.Time{}, time.Time{}, now.Add(time.Minute)); !next.After(to) {
		t.Fatalf("expected the window to advance with the next minute, got %s", next)
	}
	if _, _, err := summaryRange(now, now, now); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected empty range to be rejected, got %v", err)
	}
}

func TestImpersonationRules(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Impersonate(managerCtx(), "usr-cashier"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected manager impersonation to be forbidden, got %v", err)
	}
	if _, err := svc.Impersonate(adminCtx(), "usr-admin"); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected admin target to be forbidden, got %v", err)
	}

	target, err := svc.Impersonate(adminCtx(), "usr-cashier")
	if err != nil {
		t.Fatalf("impersonate failed: %v", err)
	}
	if target.Username != "cashier" || target.BranchID != memory.MainBranchID {
		t.Fatalf("unexpected target: %+v", target)
	}

	impersonated := WithActor(context.Background(), domain.Actor{
		Username:     target.Username,
		Role:         target.Role,
		BranchID:     target.BranchID,
		Impersonator: "admin",
	})
	admin, err := svc.LeaveImpersonation(impersonated)
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if admin.Username != "admin" || admin.Role != domain.RoleAdmin {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if _, err := svc.LeaveImpersonation(cashierCtx()); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected leave without impersonation to be invalid, got %v", err)
	}

	inactive := false
	if _, err := svc.UpdateUser(adminCtx(), "usr-cashier-south", domain.UserUpdateRequest{Active: &inactive}); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := svc.Impersonate(adminCtx(), "usr-cashier-south"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected inactive target conflict, got %v", err)
	}
}
