package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

const saleColumns = `s.id, s.number, s.branch_id, s.cashier_username, s.customer_name, s.payment_method, s.status,
	s.subtotal_cents, s.total_cents, s.paid_cents, s.change_cents, s.qr_token,
	COALESCE(s.client_ref, ''), COALESCE(s.reservation_id, ''), s.created_at`

func scanSale(scan func(dest ...any) error) (domain.Sale, error) {
	var sale domain.Sale
	err := scan(
		&sale.ID, &sale.Number, &sale.BranchID, &sale.CashierUsername, &sale.CustomerName, &sale.PaymentMethod, &sale.Status,
		&sale.SubtotalCents, &sale.TotalCents, &sale.PaidCents, &sale.ChangeCents, &sale.QRToken,
		&sale.ClientRef, &sale.ReservationID, &sale.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := insertSaleTx(ctx, tx, sale)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: client reference %s already synced", store.ErrConflict, sale.ClientRef)
		}
		return nil, err
	}
	return created, nil
}

// insertSaleTx locks the branch stock rows of every product-type line in a
// stable order, checks them all, then decrements and inserts the sale.
func insertSaleTx(ctx context.Context, tx *sql.Tx, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	var branchOK bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, sale.BranchID).Scan(&branchOK); err != nil {
		return nil, err
	}
	if !branchOK {
		return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, sale.BranchID)
	}

	required := map[string]int{}
	productIDs := make([]string, 0, len(sale.Items))
	names := map[string]string{}
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidRequest
		}
		if item.ProductType == domain.ProductTypeProduct {
			if _, seen := required[item.ProductID]; !seen {
				productIDs = append(productIDs, item.ProductID)
			}
			required[item.ProductID] += item.Quantity
			names[item.ProductID] = item.ProductName
		}
	}

	if len(productIDs) > 0 {
		rows, err := tx.QueryContext(ctx, `
			SELECT product_id, stock_quantity
			FROM branch_products
			WHERE branch_id = $1 AND product_id = ANY($2)
			ORDER BY product_id
			FOR UPDATE
		`, sale.BranchID, productIDs)
		if err != nil {
			return nil, err
		}
		available := make(map[string]int, len(productIDs))
		for rows.Next() {
			var productID string
			var qty int
			if err := rows.Scan(&productID, &qty); err != nil {
				rows.Close()
				return nil, err
			}
			available[productID] = qty
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		for _, productID := range productIDs {
			if available[productID] < required[productID] {
				return nil, fmt.Errorf("%w: %s has %d left, %d requested", store.ErrInsufficientStock, names[productID], available[productID], required[productID])
			}
		}
		for _, productID := range productIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE branch_products
				SET stock_quantity = stock_quantity - $3, updated_at = now()
				WHERE branch_id = $1 AND product_id = $2
			`, sale.BranchID, productID, required[productID])
			if err != nil {
				return nil, err
			}
		}
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

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, branch_id, cashier_username, customer_name, payment_method, status,
			subtotal_cents, total_cents, paid_cents, change_cents, qr_token, client_ref, reservation_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		sale.ID, sale.Number, sale.BranchID, sale.CashierUsername, sale.CustomerName, sale.PaymentMethod, sale.Status,
		sale.SubtotalCents, sale.TotalCents, sale.PaidCents, sale.ChangeCents, sale.QRToken,
		nullIfEmpty(sale.ClientRef), nullIfEmpty(sale.ReservationID), sale.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: client reference %s already synced", store.ErrConflict, sale.ClientRef)
		}
		return nil, err
	}

	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		item.SaleID = sale.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, position, product_id, product_name, product_type, quantity, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, item.SaleID, i, item.ProductID, item.ProductName, item.ProductType, item.Quantity, item.UnitPriceCents, item.TotalCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			return nil, err
		}
		items[i] = item
	}
	sale.Items = items

	for _, mechanicID := range sale.MechanicIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_mechanics (sale_id, mechanic_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, sale.ID, mechanicID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, mechanicID)
			}
			return nil, err
		}
	}

	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSaleWhere(ctx, s.db, `s.id = $1`, id)
}

func (s *Store) GetSaleByToken(ctx context.Context, token string) (*domain.Sale, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return getSaleWhere(ctx, s.db, `s.qr_token = $1`, token)
}

func (s *Store) FindSaleByClientRef(ctx context.Context, clientRef string) (*domain.Sale, error) {
	if clientRef == "" {
		return nil, store.ErrNotFound
	}
	return getSaleWhere(ctx, s.db, `s.client_ref = $1`, clientRef)
}

func getSaleWhere(ctx context.Context, q queryer, where string, arg any) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales s WHERE `+where, arg).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := loadSaleDetails(ctx, q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	where := `($1 = '' OR s.branch_id = $1)
		AND ($2 = '' OR s.status = $2)
		AND ($3::timestamptz IS NULL OR s.created_at >= $3)
		AND ($4::timestamptz IS NULL OR s.created_at < $4)`
	args := []any{filter.BranchID, filter.Status, timeBound(filter.From), timeBound(filter.To)}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sales s WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + saleColumns + ` FROM sales s WHERE ` + where + ` ORDER BY s.created_at DESC, s.id DESC`
	if filter.Limit > 0 {
		page := max(filter.Page, 1)
		query += ` LIMIT $5 OFFSET $6`
		args = append(args, filter.Limit, (page-1)*filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, max(filter.Limit, 16))
	for rows.Next() {
		sale, err := scanSale(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := loadSaleDetails(ctx, s.db, sales); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

// loadSaleDetails fills items and mechanic ids for every sale in place.
func loadSaleDetails(ctx context.Context, q queryer, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i := range sales {
		ids[i] = sales[i].ID
		index[sales[i].ID] = i
		sales[i].Items = []domain.SaleItem{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, product_type, quantity, unit_price_cents, total_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.ProductType, &item.Quantity, &item.UnitPriceCents, &item.TotalCents); err != nil {
			rows.Close()
			return err
		}
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT sale_id, mechanic_id FROM sale_mechanics
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, mechanic_id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var saleID, mechanicID string
		if err := rows.Scan(&saleID, &mechanicID); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].MechanicIDs = append(sales[i].MechanicIDs, mechanicID)
	}
	return rows.Err()
}

const returnColumns = `id, sale_id, sale_item_id, branch_id, product_id, product_name, product_type, quantity, amount_cents,
	reason, status, requested_by, COALESCE(reviewed_by, ''), reviewed_at, created_at`

func scanReturn(scan func(dest ...any) error) (domain.SalesReturn, error) {
	var ret domain.SalesReturn
	var reviewedAt sql.NullTime
	err := scan(
		&ret.ID, &ret.SaleID, &ret.SaleItemID, &ret.BranchID, &ret.ProductID, &ret.ProductName, &ret.ProductType, &ret.Quantity, &ret.AmountCents,
		&ret.Reason, &ret.Status, &ret.RequestedBy, &ret.ReviewedBy, &reviewedAt, &ret.CreatedAt,
	)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	ret.ReviewedAt = timePtr(reviewedAt)
	ret.CreatedAt = ret.CreatedAt.UTC()
	return ret, nil
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.SalesReturn) (*domain.SalesReturn, error) {
	if ret.Quantity < 1 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var item domain.SaleItem
	var branchID string
	err = tx.QueryRowContext(ctx, `
		SELECT si.id, si.product_id, si.product_name, si.product_type, si.quantity, si.unit_price_cents, s.branch_id
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE si.sale_id = $1 AND si.id = $2
		FOR UPDATE OF si
	`, ret.SaleID, ret.SaleItemID).Scan(&item.ID, &item.ProductID, &item.ProductName, &item.ProductType, &item.Quantity, &item.UnitPriceCents, &branchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale item %s", store.ErrNotFound, ret.SaleItemID)
		}
		return nil, err
	}

	claimed, err := returnedQty(ctx, tx, item.ID, "", domain.ReturnStatusApproved, domain.ReturnStatusPending)
	if err != nil {
		return nil, err
	}
	if remaining := item.Quantity - claimed; ret.Quantity > remaining {
		return nil, fmt.Errorf("%w: return quantity %d exceeds remaining %d", store.ErrInvalidRequest, ret.Quantity, remaining)
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	ret.BranchID = branchID
	ret.ProductID = item.ProductID
	ret.ProductName = item.ProductName
	ret.ProductType = item.ProductType
	ret.AmountCents = item.UnitPriceCents * int64(ret.Quantity)
	ret.Status = domain.ReturnStatusPending

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales_returns (
			id, sale_id, sale_item_id, branch_id, product_id, product_name, product_type, quantity, amount_cents,
			reason, status, requested_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ret.ID, ret.SaleID, ret.SaleItemID, ret.BranchID, ret.ProductID, ret.ProductName, ret.ProductType, ret.Quantity, ret.AmountCents,
		ret.Reason, ret.Status, ret.RequestedBy, ret.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.SalesReturn, error) {
	ret, err := scanReturn(s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM sales_returns WHERE id = $1`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ListReturns(ctx context.Context, filter domain.ReturnFilter) ([]domain.SalesReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM sales_returns
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR sale_id = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
	`, filter.BranchID, filter.SaleID, filter.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.SalesReturn, 0, 16)
	for rows.Next() {
		ret, err := scanReturn(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ApproveReturn(ctx context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, *domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ret, err := lockPendingReturn(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	var itemQty int
	if err := tx.QueryRowContext(ctx, `SELECT quantity FROM sale_items WHERE id = $1 FOR UPDATE`, ret.SaleItemID).Scan(&itemQty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: sale item %s", store.ErrNotFound, ret.SaleItemID)
		}
		return nil, nil, err
	}
	approved, err := returnedQty(ctx, tx, ret.SaleItemID, ret.ID, domain.ReturnStatusApproved)
	if err != nil {
		return nil, nil, err
	}
	if approved+ret.Quantity > itemQty {
		return nil, nil, fmt.Errorf("%w: return quantity %d exceeds remaining %d", store.ErrInvalidRequest, ret.Quantity, itemQty-approved)
	}

	if ret.ProductType == domain.ProductTypeProduct {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO branch_products (branch_id, product_id, stock_quantity, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (branch_id, product_id)
			DO UPDATE SET stock_quantity = branch_products.stock_quantity + EXCLUDED.stock_quantity, updated_at = now()
		`, ret.BranchID, ret.ProductID, ret.Quantity)
		if err != nil {
			return nil, nil, err
		}
	}

	ret.Status = domain.ReturnStatusApproved
	ret.ReviewedBy = reviewer
	reviewedAt := at
	ret.ReviewedAt = &reviewedAt
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales_returns SET status = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $1
	`, ret.ID, ret.Status, ret.ReviewedBy, nullTime(ret.ReviewedAt)); err != nil {
		return nil, nil, err
	}

	var sold, returned int
	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT sum(quantity) FROM sale_items WHERE sale_id = $1), 0),
			COALESCE((SELECT sum(quantity) FROM sales_returns WHERE sale_id = $1 AND status = $2), 0)
	`, ret.SaleID, domain.ReturnStatusApproved).Scan(&sold, &returned)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET subtotal_cents = GREATEST(0, subtotal_cents - $2),
			total_cents = GREATEST(0, total_cents - $2),
			status = $3
		WHERE id = $1
	`, ret.SaleID, ret.AmountCents, domain.SaleStatusForReturns(sold, returned))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	sale, err := s.GetSale(ctx, ret.SaleID)
	if err != nil {
		return nil, nil, err
	}
	return &ret, sale, nil
}

func (s *Store) RejectReturn(ctx context.Context, id string, reviewer string, at time.Time) (*domain.SalesReturn, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ret, err := lockPendingReturn(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	ret.Status = domain.ReturnStatusRejected
	ret.ReviewedBy = reviewer
	reviewedAt := at
	ret.ReviewedAt = &reviewedAt
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales_returns SET status = $2, reviewed_by = $3, reviewed_at = $4 WHERE id = $1
	`, ret.ID, ret.Status, ret.ReviewedBy, nullTime(ret.ReviewedAt)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}

func lockPendingReturn(ctx context.Context, tx *sql.Tx, id string) (domain.SalesReturn, error) {
	ret, err := scanReturn(tx.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM sales_returns WHERE id = $1 FOR UPDATE`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SalesReturn{}, store.ErrNotFound
		}
		return domain.SalesReturn{}, err
	}
	if ret.Status != domain.ReturnStatusPending {
		return domain.SalesReturn{}, fmt.Errorf("%w: return is already %s", store.ErrConflict, ret.Status)
	}
	return ret, nil
}

func returnedQty(ctx context.Context, q queryer, saleItemID string, exceptID string, statuses ...string) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(sum(quantity), 0)
		FROM sales_returns
		WHERE sale_item_id = $1 AND id <> $2 AND status = ANY($3)
	`, saleItemID, exceptID, statuses).Scan(&total)
	return total, err
}
