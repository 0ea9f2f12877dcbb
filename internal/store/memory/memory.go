package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

// Seeded identifiers, stable so tests and demos can address them directly.
const (
	MainBranchID  = "br-main"
	SouthBranchID = "br-south"

	ProductOilID    = "prd-oil-001"
	ProductBrakeID  = "prd-brk-001"
	ProductSparkID  = "prd-spk-001"
	ServiceTuneUpID = "prd-svc-001"
	ServiceOilJobID = "prd-svc-002"

	MechanicMainID  = "mch-budi"
	MechanicSouthID = "mch-andi"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu               sync.RWMutex
	branches         map[string]domain.Branch
	products         map[string]domain.Product
	stock            map[string]map[string]int
	salesByID        map[string]*domain.Sale
	saleIDByToken    map[string]string
	saleIDByRef      map[string]string
	returnsByID      map[string]domain.SalesReturn
	mechanicsByID    map[string]domain.Mechanic
	jobOrdersByID    map[string]*domain.JobOrder
	reservationsByID map[string]*domain.Reservation
	usersByID        map[string]domain.User
	rolesByName      map[string]domain.Role
	menusByID        map[string]domain.Menu
	userMenus        map[string][]string
	branchMenus      map[string][]string
	attendanceByID   map[string]domain.Attendance
	auditLogs        []domain.AuditLog
}

// seedUsers builds the demo accounts. Passwords come from SEED_*_PASSWORD
// when set; the memory store is never used when DATABASE_URL is configured.
func seedUsers(now time.Time) map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := map[string]domain.User{}
	for _, u := range []struct {
		id       string
		username string
		fullName string
		password string
		role     string
		branchID string
	}{
		{"usr-admin", "admin", "System Admin", adminPwd, domain.RoleAdmin, ""},
		{"usr-manager", "manager", "Kepala Bengkel Pusat", managerPwd, domain.RoleManager, MainBranchID},
		{"usr-cashier", "cashier", "Kasir Pusat", cashierPwd, domain.RoleCashier, MainBranchID},
		{"usr-cashier-south", "cashier.south", "Kasir Selatan", cashierPwd, domain.RoleCashier, SouthBranchID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.id] = domain.User{
			ID:           u.id,
			Username:     u.username,
			FullName:     u.fullName,
			PasswordHash: string(hash),
			Role:         u.role,
			BranchID:     u.branchID,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	branches := map[string]domain.Branch{
		MainBranchID:  {ID: MainBranchID, Name: "Bengkel Pusat", Address: "Jl. Merdeka 10", Phone: "021-555-0100", IsMain: true, Active: true, CreatedAt: now},
		SouthBranchID: {ID: SouthBranchID, Name: "Cabang Selatan", Address: "Jl. Fatmawati 88", Phone: "021-555-0200", Active: true, CreatedAt: now},
	}

	products := []domain.Product{
		{ID: ProductOilID, SKU: "OIL-001", Name: "Oli Mesin 1L", Type: domain.ProductTypeProduct, PriceCents: 5500000, CostCents: 4200000},
		{ID: ProductBrakeID, SKU: "BRK-001", Name: "Kampas Rem Depan", Type: domain.ProductTypeProduct, PriceCents: 8500000, CostCents: 6000000},
		{ID: ProductSparkID, SKU: "SPK-001", Name: "Busi Iridium", Type: domain.ProductTypeProduct, PriceCents: 4500000, CostCents: 3000000},
		{ID: ServiceTuneUpID, SKU: "SVC-001", Name: "Servis Ringan", Type: domain.ProductTypeService, PriceCents: 7500000},
		{ID: ServiceOilJobID, SKU: "SVC-002", Name: "Jasa Ganti Oli", Type: domain.ProductTypeService, PriceCents: 2500000},
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		productMap[p.ID] = p
	}

	stock := map[string]map[string]int{
		MainBranchID:  {ProductOilID: 24, ProductBrakeID: 10, ProductSparkID: 30},
		SouthBranchID: {ProductOilID: 12, ProductBrakeID: 6, ProductSparkID: 15},
	}

	mechanics := map[string]domain.Mechanic{
		MechanicMainID:  {ID: MechanicMainID, BranchID: MainBranchID, Name: "Budi Santoso", Phone: "0812-1111-2222", Active: true, CreatedAt: now},
		MechanicSouthID: {ID: MechanicSouthID, BranchID: SouthBranchID, Name: "Andi Wijaya", Phone: "0813-3333-4444", Active: true, CreatedAt: now},
	}

	roles := map[string]domain.Role{}
	for _, r := range []domain.Role{
		{Name: domain.RoleAdmin, Label: "System Admin"},
		{Name: domain.RoleManager, Label: "Branch Manager"},
		{Name: domain.RoleCashier, Label: "Cashier"},
	} {
		r.BuiltIn = true
		r.CreatedAt = now
		roles[r.Name] = r
	}

	menus := map[string]domain.Menu{}
	for i, m := range []domain.Menu{
		{ID: "menu-dashboard", Key: "dashboard", Label: "Dashboard", Path: "/dashboard"},
		{ID: "menu-pos", Key: "pos", Label: "Kasir", Path: "/pos"},
		{ID: "menu-sales", Key: "sales", Label: "Penjualan", Path: "/sales"},
		{ID: "menu-returns", Key: "returns", Label: "Retur", Path: "/returns"},
		{ID: "menu-reservations", Key: "reservations", Label: "Reservasi", Path: "/reservations"},
		{ID: "menu-job-orders", Key: "job-orders", Label: "Job Order", Path: "/job-orders"},
		{ID: "menu-products", Key: "products", Label: "Produk", Path: "/products"},
		{ID: "menu-mechanics", Key: "mechanics", Label: "Mekanik", Path: "/mechanics"},
		{ID: "menu-attendance", Key: "attendance", Label: "Absensi", Path: "/attendance"},
		{ID: "menu-analytics", Key: "analytics", Label: "Analitik", Path: "/analytics"},
		{ID: "menu-users", Key: "users", Label: "Pengguna", Path: "/users"},
	} {
		m.SortOrder = (i + 1) * 10
		m.CreatedAt = now
		menus[m.ID] = m
	}
	branchMenuIDs := []string{"menu-dashboard", "menu-pos", "menu-sales", "menu-reservations", "menu-job-orders", "menu-attendance"}

	return &Store{
		branches:         branches,
		products:         productMap,
		stock:            stock,
		salesByID:        make(map[string]*domain.Sale),
		saleIDByToken:    make(map[string]string),
		saleIDByRef:      make(map[string]string),
		returnsByID:      make(map[string]domain.SalesReturn),
		mechanicsByID:    mechanics,
		jobOrdersByID:    make(map[string]*domain.JobOrder),
		reservationsByID: make(map[string]*domain.Reservation),
		usersByID:        seedUsers(now),
		rolesByName:      roles,
		menusByID:        menus,
		userMenus: map[string][]string{
			"usr-manager": {"menu-products", "menu-returns", "menu-mechanics", "menu-analytics"},
		},
		branchMenus: map[string][]string{
			MainBranchID:  slices.Clone(branchMenuIDs),
			SouthBranchID: slices.Clone(branchMenuIDs),
		},
		attendanceByID: make(map[string]domain.Attendance),
		auditLogs:      make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		if a.IsMain != b.IsMain {
			if a.IsMain {
				return -1
			}
			return 1
		}
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidRequest
	}
	if s.branchNameTakenLocked(branch.Name, "") {
		return nil, fmt.Errorf("%w: branch name %q already exists", store.ErrConflict, branch.Name)
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	if len(s.branches) == 0 {
		branch.IsMain = true
	}
	if branch.IsMain {
		s.clearMainLocked()
	}
	s.branches[branch.ID] = branch
	s.stock[branch.ID] = make(map[string]int)
	return &branch, nil
}

func (s *Store) UpdateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.branches[branch.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidRequest
	}
	if s.branchNameTakenLocked(branch.Name, branch.ID) {
		return nil, fmt.Errorf("%w: branch name %q already exists", store.ErrConflict, branch.Name)
	}
	if current.IsMain && !branch.IsMain {
		return nil, fmt.Errorf("%w: promote another branch to main instead", store.ErrConflict)
	}
	if branch.IsMain && !current.IsMain {
		s.clearMainLocked()
	}
	branch.CreatedAt = current.CreatedAt
	s.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) CountBranchDependents(_ context.Context, id string) (domain.BranchDependents, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var deps domain.BranchDependents
	if _, ok := s.branches[id]; !ok {
		return deps, store.ErrNotFound
	}
	for _, u := range s.usersByID {
		if u.BranchID == id {
			deps.Users++
		}
	}
	for _, sale := range s.salesByID {
		if sale.BranchID == id {
			deps.Sales++
		}
	}
	for _, r := range s.reservationsByID {
		if r.BranchID == id {
			deps.Reservations++
		}
	}
	for _, j := range s.jobOrdersByID {
		if j.BranchID == id {
			deps.JobOrders++
		}
	}
	for _, m := range s.mechanicsByID {
		if m.BranchID == id {
			deps.Mechanics++
		}
	}
	return deps, nil
}

func (s *Store) DeleteBranch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.branches, id)
	delete(s.stock, id)
	delete(s.branchMenus, id)
	return nil
}

func (s *Store) branchNameTakenLocked(name string, exceptID string) bool {
	for _, b := range s.branches {
		if b.ID != exceptID && strings.EqualFold(b.Name, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func (s *Store) clearMainLocked() {
	for id, b := range s.branches {
		if b.IsMain {
			b.IsMain = false
			s.branches[id] = b
		}
	}
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.ProductWithStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.ProductWithStock, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, domain.ProductWithStock{Product: p, StockQuantity: s.stockLocked(branchID, p)})
	}
	slices.SortFunc(products, func(a, b domain.ProductWithStock) int {
		if a.Type == b.Type {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Type, b.Type)
	})
	return products, nil
}

// stockLocked returns the branch quantity, or the sum over all branches when
// branchID is empty.
func (s *Store) stockLocked(branchID string, p domain.Product) int {
	if !p.TracksStock() {
		return 0
	}
	if branchID != "" {
		return s.stock[branchID][p.ID]
	}
	total := 0
	for _, byProduct := range s.stock {
		total += byProduct[p.ID]
	}
	return total
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock []domain.BranchStockInput) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 || product.CostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, p := range s.products {
		if p.SKU == product.SKU {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
	}
	for _, in := range initialStock {
		if _, ok := s.branches[in.BranchID]; !ok {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, in.BranchID)
		}
		if in.Quantity < 0 || in.Quantity > store.MaxStockQuantity {
			return nil, store.ErrInvalidRequest
		}
	}

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = product
	if product.TracksStock() {
		for _, in := range initialStock {
			s.branchStockLocked(in.BranchID)[product.ID] = in.Quantity
		}
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.PriceCents < 0 || product.CostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	product.SKU = current.SKU
	product.Type = current.Type
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetStock(_ context.Context, branchID string, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.branches[branchID]; !ok {
		return 0, store.ErrNotFound
	}
	if _, ok := s.products[productID]; !ok {
		return 0, store.ErrNotFound
	}
	return s.stock[branchID][productID], nil
}

func (s *Store) AdjustStock(_ context.Context, branchID string, productID string, delta int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[branchID]; !ok {
		return 0, 0, fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
	}
	product, ok := s.products[productID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	if !product.TracksStock() {
		return 0, 0, fmt.Errorf("%w: services carry no stock", store.ErrInvalidRequest)
	}
	if delta > store.MaxStockQuantity || delta < -store.MaxStockQuantity {
		return 0, 0, fmt.Errorf("%w: adjustment out of range", store.ErrInvalidRequest)
	}
	branchStock := s.branchStockLocked(branchID)
	previous := branchStock[productID]
	next := max(0, previous+delta)
	if next > store.MaxStockQuantity {
		return 0, 0, fmt.Errorf("%w: stock cannot exceed %d", store.ErrInvalidRequest, store.MaxStockQuantity)
	}
	branchStock[productID] = next
	return previous, next, nil
}

func (s *Store) branchStockLocked(branchID string) map[string]int {
	branchStock, ok := s.stock[branchID]
	if !ok {
		branchStock = make(map[string]int)
		s.stock[branchID] = branchStock
	}
	return branchStock
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return compareNewest(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func compareNewest(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return cmpString(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
