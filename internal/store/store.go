package store

import (
	"context"
	"errors"
	"time"

	"bengkelpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
)

// MaxStockQuantity caps a branch stock level and any single adjustment. It
// fits the postgres integer column.
const MaxStockQuantity = 1_000_000_000

type Repository interface {
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	CountBranchDependents(ctx context.Context, id string) (domain.BranchDependents, error)
	DeleteBranch(ctx context.Context, id string) error

	ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product, initialStock []domain.BranchStockInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetStock(ctx context.Context, branchID string, productID string) (int, error)
	// AdjustStock applies delta and clamps the result at zero. It returns the
	// previous and new quantity.
	AdjustStock(ctx context.Context, branchID string, productID string, delta int) (int, int, error)

	// CreateSale decrements branch stock for every product-type item and
	// persists the sale atomically. Any shortfall fails the whole sale with
	// ErrInsufficientStock.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleByToken(ctx context.Context, token string) (*domain.Sale, error)
	FindSaleByClientRef(ctx context.Context, clientRef string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)

	CreateReturn(ctx context.Context, ret domain.SalesReturn) (*domain.SalesReturn, error)
	GetReturn(ctx context.Context, id string) (*domain.SalesReturn, error)
	ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.SalesReturn, error)
	ApproveReturn(ctx context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, *domain.Sale, error)
	RejectReturn(ctx context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, error)

	ListMechanics(ctx context.Context, branchID string) ([]domain.Mechanic, error)
	GetMechanic(ctx context.Context, id string) (*domain.Mechanic, error)
	CreateMechanic(ctx context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error)
	// UpdateMechanic never touches the earned labor total; only job order
	// transitions move it.
	UpdateMechanic(ctx context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error)
	CountOpenJobOrders(ctx context.Context, mechanicID string) (int, error)

	CreateJobOrder(ctx context.Context, job domain.JobOrder) (*domain.JobOrder, error)
	GetJobOrder(ctx context.Context, id string) (*domain.JobOrder, error)
	GetJobOrderByToken(ctx context.Context, token string) (*domain.JobOrder, error)
	ListJobOrders(ctx context.Context, filter domain.JobOrderFilter) ([]domain.JobOrder, error)
	// UpdateJobOrder replaces the stored row and moves mechanic labor credit
	// from the stored state to the new one in the same transaction.
	UpdateJobOrder(ctx context.Context, job domain.JobOrder) (*domain.JobOrder, error)

	CreateReservation(ctx context.Context, reservation domain.Reservation) (*domain.Reservation, error)
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error)
	ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, status string, at time.Time) (*domain.Reservation, error)
	// CompleteReservation turns the reservation into a sale. The sale argument
	// carries the header fields; branch, items, mechanics and totals are copied
	// from the stored reservation.
	CompleteReservation(ctx context.Context, id string, sale domain.Sale) (*domain.Reservation, *domain.Sale, error)

	ListUsers(ctx context.Context, branchID string) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error

	ListRoles(ctx context.Context) ([]domain.Role, error)
	GetRole(ctx context.Context, name string) (*domain.Role, error)
	CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error)
	DeleteRole(ctx context.Context, name string) error
	CountUsersWithRole(ctx context.Context, name string) (int, error)

	ListMenus(ctx context.Context) ([]domain.Menu, error)
	CreateMenu(ctx context.Context, menu domain.Menu) (*domain.Menu, error)
	DeleteMenu(ctx context.Context, id string) error
	SetUserMenus(ctx context.Context, userID string, menuIDs []string) error
	SetBranchMenus(ctx context.Context, branchID string, menuIDs []string) error
	ListMenusForUser(ctx context.Context, userID string, branchID string) ([]domain.Menu, error)

	ClockIn(ctx context.Context, attendance domain.Attendance) (*domain.Attendance, error)
	ClockOut(ctx context.Context, userID string, workDate string, at time.Time, notes string) (*domain.Attendance, error)
	ListAttendance(ctx context.Context, filter domain.AttendanceFilter) ([]domain.Attendance, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error)
}
