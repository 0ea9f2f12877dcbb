package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, phone, is_main, active, created_at
		FROM branches
		ORDER BY is_main DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.IsMain, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, is_main, active, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.IsMain, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidRequest
	}
	if branch.ID == "" {
		branch.ID = xid.New("br")
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM branches`).Scan(&existing); err != nil {
		return nil, err
	}
	if existing == 0 {
		branch.IsMain = true
	}
	if branch.IsMain {
		if _, err := tx.ExecContext(ctx, `UPDATE branches SET is_main = false WHERE is_main`); err != nil {
			return nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, phone, is_main, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, branch.ID, branch.Name, branch.Address, branch.Phone, branch.IsMain, branch.Active, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: branch name %q already exists", store.ErrConflict, branch.Name)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (s *Store) UpdateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentMain bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_main, created_at FROM branches WHERE id = $1 FOR UPDATE
	`, branch.ID).Scan(&currentMain, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if currentMain && !branch.IsMain {
		return nil, fmt.Errorf("%w: promote another branch to main instead", store.ErrConflict)
	}
	if branch.IsMain && !currentMain {
		if _, err := tx.ExecContext(ctx, `UPDATE branches SET is_main = false WHERE is_main`); err != nil {
			return nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE branches
		SET name = $2, address = $3, phone = $4, is_main = $5, active = $6
		WHERE id = $1
	`, branch.ID, branch.Name, branch.Address, branch.Phone, branch.IsMain, branch.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: branch name %q already exists", store.ErrConflict, branch.Name)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	branch.CreatedAt = branch.CreatedAt.UTC()
	return &branch, nil
}

func (s *Store) CountBranchDependents(ctx context.Context, id string) (domain.BranchDependents, error) {
	var deps domain.BranchDependents
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM branches WHERE id = $1),
			(SELECT count(*) FROM users WHERE branch_id = $1),
			(SELECT count(*) FROM sales WHERE branch_id = $1),
			(SELECT count(*) FROM reservations WHERE branch_id = $1),
			(SELECT count(*) FROM job_orders WHERE branch_id = $1),
			(SELECT count(*) FROM mechanics WHERE branch_id = $1)
	`, id).Scan(&exists, &deps.Users, &deps.Sales, &deps.Reservations, &deps.JobOrders, &deps.Mechanics)
	if err != nil {
		return deps, err
	}
	if !exists {
		return deps, store.ErrNotFound
	}
	return deps, nil
}

func (s *Store) DeleteBranch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: branch is still referenced", store.ErrConflict)
		}
		return err
	}
	return requireAffected(res)
}

const productColumns = `p.id, p.sku, p.name, p.type, p.price_cents, p.cost_cents, p.active, p.created_at`

func scanProduct(scan func(dest ...any) error, extra ...any) (domain.Product, error) {
	var p domain.Product
	dest := append([]any{&p.ID, &p.SKU, &p.Name, &p.Type, &p.PriceCents, &p.CostCents, &p.Active, &p.CreatedAt}, extra...)
	if err := scan(dest...); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// ListProducts returns active products with their stock for branchID, or the
// stock summed over every branch when branchID is empty.
func (s *Store) ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`,
			COALESCE((
				SELECT sum(bp.stock_quantity)
				FROM branch_products bp
				WHERE bp.product_id = p.id AND ($1 = '' OR bp.branch_id = $1)
			), 0)
		FROM products p
		WHERE p.active = true
		ORDER BY p.type, p.name
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithStock, 0, 64)
	for rows.Next() {
		var qty int
		p, err := scanProduct(rows.Scan, &qty)
		if err != nil {
			return nil, err
		}
		if !p.TracksStock() {
			qty = 0
		}
		products = append(products, domain.ProductWithStock{Product: p, StockQuantity: qty})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		WHERE p.active = true AND p.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock []domain.BranchStockInput) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 || product.CostCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	for _, in := range initialStock {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, type, price_cents, cost_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, product.ID, product.SKU, product.Name, product.Type, product.PriceCents, product.CostCents, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, err
	}
	if product.TracksStock() {
		for _, in := range initialStock {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO branch_products (branch_id, product_id, stock_quantity, updated_at)
				VALUES ($1,$2,$3,now())
				ON CONFLICT (branch_id, product_id)
				DO UPDATE SET stock_quantity = EXCLUDED.stock_quantity, updated_at = now()
			`, in.BranchID, product.ID, in.Quantity)
			if err != nil {
				if isForeignKeyViolation(err) {
					return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, in.BranchID)
				}
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.PriceCents < 0 || product.CostCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products p
		SET name = $2, price_cents = $3, cost_cents = $4, active = $5, updated_at = now()
		WHERE p.id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.PriceCents, product.CostCents, product.Active).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetStock(ctx context.Context, branchID string, productID string) (int, error) {
	var qty int
	var branchOK, productOK bool
	err := s.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM branches WHERE id = $1),
			EXISTS (SELECT 1 FROM products WHERE id = $2),
			COALESCE((SELECT stock_quantity FROM branch_products WHERE branch_id = $1 AND product_id = $2), 0)
	`, branchID, productID).Scan(&branchOK, &productOK, &qty)
	if err != nil {
		return 0, err
	}
	if !branchOK || !productOK {
		return 0, store.ErrNotFound
	}
	return qty, nil
}

func (s *Store) AdjustStock(ctx context.Context, branchID string, productID string, delta int) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var productType string
	if err := tx.QueryRowContext(ctx, `SELECT type FROM products WHERE id = $1`, productID).Scan(&productType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return 0, 0, err
	}
	if productType != domain.ProductTypeProduct {
		return 0, 0, fmt.Errorf("%w: services carry no stock", store.ErrInvalidRequest)
	}
	if delta > store.MaxStockQuantity || delta < -store.MaxStockQuantity {
		return 0, 0, fmt.Errorf("%w: adjustment out of range", store.ErrInvalidRequest)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO branch_products (branch_id, product_id, stock_quantity, updated_at)
		VALUES ($1,$2,0,now())
		ON CONFLICT (branch_id, product_id) DO NOTHING
	`, branchID, productID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, 0, fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
		}
		return 0, 0, err
	}

	var previous int
	err = tx.QueryRowContext(ctx, `
		SELECT stock_quantity FROM branch_products
		WHERE branch_id = $1 AND product_id = $2
		FOR UPDATE
	`, branchID, productID).Scan(&previous)
	if err != nil {
		return 0, 0, err
	}
	next := max(0, previous+delta)
	if next > store.MaxStockQuantity {
		return 0, 0, fmt.Errorf("%w: stock cannot exceed %d", store.ErrInvalidRequest, store.MaxStockQuantity)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE branch_products SET stock_quantity = $3, updated_at = now()
		WHERE branch_id = $1 AND product_id = $2
	`, branchID, productID, next)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return previous, next, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

// timeBound turns a zero time into NULL so range filters can skip it.
func timeBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
