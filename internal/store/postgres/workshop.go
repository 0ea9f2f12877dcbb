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

const mechanicColumns = `id, branch_id, name, phone, active, total_labor_earned_cents, created_at`

func scanMechanic(scan func(dest ...any) error) (domain.Mechanic, error) {
	var m domain.Mechanic
	if err := scan(&m.ID, &m.BranchID, &m.Name, &m.Phone, &m.Active, &m.TotalLaborEarnedCents, &m.CreatedAt); err != nil {
		return domain.Mechanic{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *Store) ListMechanics(ctx context.Context, branchID string) ([]domain.Mechanic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mechanicColumns+`
		FROM mechanics
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY name, id
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Mechanic, 0, 16)
	for rows.Next() {
		m, err := scanMechanic(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetMechanic(ctx context.Context, id string) (*domain.Mechanic, error) {
	m, err := scanMechanic(s.db.QueryRowContext(ctx, `SELECT `+mechanicColumns+` FROM mechanics WHERE id = $1`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) CreateMechanic(ctx context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error) {
	if mechanic.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if mechanic.ID == "" {
		mechanic.ID = xid.New("mch")
	}
	if mechanic.CreatedAt.IsZero() {
		mechanic.CreatedAt = time.Now().UTC()
	}
	mechanic.Active = true
	mechanic.TotalLaborEarnedCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mechanics (id, branch_id, name, phone, active, total_labor_earned_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,0,$6)
	`, mechanic.ID, mechanic.BranchID, mechanic.Name, mechanic.Phone, mechanic.Active, mechanic.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, mechanic.BranchID)
		}
		return nil, err
	}
	return &mechanic, nil
}

func (s *Store) UpdateMechanic(ctx context.Context, mechanic domain.Mechanic) (*domain.Mechanic, error) {
	if mechanic.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	updated, err := scanMechanic(s.db.QueryRowContext(ctx, `
		UPDATE mechanics SET name = $2, phone = $3, active = $4
		WHERE id = $1
		RETURNING `+mechanicColumns,
		mechanic.ID, mechanic.Name, mechanic.Phone, mechanic.Active).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CountOpenJobOrders(ctx context.Context, mechanicID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM job_orders
		WHERE mechanic_id = $1 AND status IN ($2, $3)
	`, mechanicID, domain.JobStatusPending, domain.JobStatusInProgress).Scan(&count)
	return count, err
}

const jobOrderColumns = `id, number, branch_id, COALESCE(mechanic_id, ''), COALESCE(sale_id, ''), customer_name, customer_phone,
	vehicle_plate, vehicle_model, description, status, labor_cost_cents, parts_cost_cents, total_cost_cents, qr_token,
	completed_at, created_at, updated_at`

func scanJobOrder(scan func(dest ...any) error) (domain.JobOrder, error) {
	var job domain.JobOrder
	var completedAt sql.NullTime
	err := scan(
		&job.ID, &job.Number, &job.BranchID, &job.MechanicID, &job.SaleID, &job.CustomerName, &job.CustomerPhone,
		&job.VehiclePlate, &job.VehicleModel, &job.Description, &job.Status, &job.LaborCostCents, &job.PartsCostCents, &job.TotalCostCents, &job.QRToken,
		&completedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.JobOrder{}, err
	}
	job.CompletedAt = timePtr(completedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

func (s *Store) CreateJobOrder(ctx context.Context, job domain.JobOrder) (*domain.JobOrder, error) {
	if job.ID == "" {
		job.ID = xid.New("job")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_orders (
			id, number, branch_id, mechanic_id, sale_id, customer_name, customer_phone, vehicle_plate, vehicle_model, description,
			status, labor_cost_cents, parts_cost_cents, total_cost_cents, qr_token, completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		job.ID, job.Number, job.BranchID, nullIfEmpty(job.MechanicID), nullIfEmpty(job.SaleID), job.CustomerName, job.CustomerPhone,
		job.VehiclePlate, job.VehicleModel, job.Description, job.Status, job.LaborCostCents, job.PartsCostCents, job.TotalCostCents,
		job.QRToken, nullTime(job.CompletedAt), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch, mechanic or sale reference", store.ErrNotFound)
		}
		return nil, err
	}
	if job.Parts, err = replaceJobParts(ctx, tx, job.ID, job.Parts); err != nil {
		return nil, err
	}
	if err := applyLaborCredit(ctx, tx, nil, &job); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) GetJobOrder(ctx context.Context, id string) (*domain.JobOrder, error) {
	return getJobOrderWhere(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) GetJobOrderByToken(ctx context.Context, token string) (*domain.JobOrder, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return getJobOrderWhere(ctx, s.db, `qr_token = $1`, token, false)
}

func getJobOrderWhere(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.JobOrder, error) {
	query := `SELECT ` + jobOrderColumns + ` FROM job_orders WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	job, err := scanJobOrder(q.QueryRowContext(ctx, query, arg).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	jobs := []domain.JobOrder{job}
	if err := loadJobParts(ctx, q, jobs); err != nil {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *Store) ListJobOrders(ctx context.Context, filter domain.JobOrderFilter) ([]domain.JobOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobOrderColumns+`
		FROM job_orders
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR mechanic_id = $2)
			AND ($3 = '' OR status = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at DESC, id DESC
	`, filter.BranchID, filter.MechanicID, filter.Status, timeBound(filter.From), timeBound(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.JobOrder, 0, 16)
	for rows.Next() {
		job, err := scanJobOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := loadJobParts(ctx, s.db, jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *Store) UpdateJobOrder(ctx context.Context, job domain.JobOrder) (*domain.JobOrder, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getJobOrderWhere(ctx, tx, `id = $1`, job.ID, true)
	if err != nil {
		return nil, err
	}
	job.Number = current.Number
	job.BranchID = current.BranchID
	job.QRToken = current.QRToken
	job.CreatedAt = current.CreatedAt
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE job_orders
		SET mechanic_id = $2, sale_id = $3, customer_name = $4, customer_phone = $5, vehicle_plate = $6, vehicle_model = $7,
			description = $8, status = $9, labor_cost_cents = $10, parts_cost_cents = $11, total_cost_cents = $12,
			completed_at = $13, updated_at = $14
		WHERE id = $1
	`,
		job.ID, nullIfEmpty(job.MechanicID), nullIfEmpty(job.SaleID), job.CustomerName, job.CustomerPhone, job.VehiclePlate, job.VehicleModel,
		job.Description, job.Status, job.LaborCostCents, job.PartsCostCents, job.TotalCostCents,
		nullTime(job.CompletedAt), job.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, job.MechanicID)
		}
		return nil, err
	}
	if job.Parts, err = replaceJobParts(ctx, tx, job.ID, job.Parts); err != nil {
		return nil, err
	}
	if err := applyLaborCredit(ctx, tx, current, &job); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

// applyLaborCredit moves a mechanic's earned labor from the credit held by
// previous to the credit held by next. A nil previous holds no credit.
func applyLaborCredit(ctx context.Context, tx *sql.Tx, previous *domain.JobOrder, next *domain.JobOrder) error {
	oldMechanic, oldCredit := domain.LaborCredit(previous)
	newMechanic, newCredit := domain.LaborCredit(next)
	if oldMechanic == newMechanic && oldCredit == newCredit {
		return nil
	}
	if oldMechanic != "" && oldCredit > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE mechanics SET total_labor_earned_cents = GREATEST(0, total_labor_earned_cents - $2) WHERE id = $1
		`, oldMechanic, oldCredit); err != nil {
			return err
		}
	}
	if newMechanic != "" && newCredit > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE mechanics SET total_labor_earned_cents = total_labor_earned_cents + $2 WHERE id = $1
		`, newMechanic, newCredit); err != nil {
			return err
		}
	}
	return nil
}

func replaceJobParts(ctx context.Context, tx *sql.Tx, jobID string, parts []domain.JobOrderPart) ([]domain.JobOrderPart, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_order_parts WHERE job_order_id = $1`, jobID); err != nil {
		return nil, err
	}
	result := make([]domain.JobOrderPart, len(parts))
	for i, part := range parts {
		if part.ID == "" {
			part.ID = xid.New("jop")
		}
		part.JobOrderID = jobID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO job_order_parts (id, job_order_id, position, product_id, name, quantity, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, part.ID, jobID, i, nullIfEmpty(part.ProductID), part.Name, part.Quantity, part.UnitPriceCents, part.TotalCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, part.ProductID)
			}
			return nil, err
		}
		result[i] = part
	}
	return result, nil
}

func loadJobParts(ctx context.Context, q queryer, jobs []domain.JobOrder) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, len(jobs))
	index := make(map[string]int, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
		index[jobs[i].ID] = i
		jobs[i].Parts = []domain.JobOrderPart{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, job_order_id, COALESCE(product_id, ''), name, quantity, unit_price_cents, total_cents
		FROM job_order_parts
		WHERE job_order_id = ANY($1)
		ORDER BY job_order_id, position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var part domain.JobOrderPart
		if err := rows.Scan(&part.ID, &part.JobOrderID, &part.ProductID, &part.Name, &part.Quantity, &part.UnitPriceCents, &part.TotalCents); err != nil {
			return err
		}
		i := index[part.JobOrderID]
		jobs[i].Parts = append(jobs[i].Parts, part)
	}
	return rows.Err()
}

const reservationColumns = `id, number, branch_id, customer_name, customer_phone, scheduled_at, status, notes, total_cents,
	qr_token, COALESCE(sale_id, ''), created_by, created_at, updated_at`

func scanReservation(scan func(dest ...any) error) (domain.Reservation, error) {
	var r domain.Reservation
	err := scan(
		&r.ID, &r.Number, &r.BranchID, &r.CustomerName, &r.CustomerPhone, &r.ScheduledAt, &r.Status, &r.Notes, &r.TotalCents,
		&r.QRToken, &r.SaleID, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.Reservation{}, err
	}
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *Store) CreateReservation(ctx context.Context, reservation domain.Reservation) (*domain.Reservation, error) {
	if len(reservation.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if reservation.ID == "" {
		reservation.ID = xid.New("rsv")
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	reservation.UpdatedAt = reservation.CreatedAt
	if reservation.Status == "" {
		reservation.Status = domain.ReservationStatusPending
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (
			id, number, branch_id, customer_name, customer_phone, scheduled_at, status, notes, total_cents,
			qr_token, created_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		reservation.ID, reservation.Number, reservation.BranchID, reservation.CustomerName, reservation.CustomerPhone,
		reservation.ScheduledAt, reservation.Status, reservation.Notes, reservation.TotalCents,
		reservation.QRToken, reservation.CreatedBy, reservation.CreatedAt, reservation.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, reservation.BranchID)
		}
		return nil, err
	}

	items := make([]domain.ReservationItem, len(reservation.Items))
	for i, item := range reservation.Items {
		if item.ID == "" {
			item.ID = xid.New("rsi")
		}
		item.ReservationID = reservation.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservation_items (id, reservation_id, position, product_id, product_name, product_type, quantity, unit_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, item.ReservationID, i, item.ProductID, item.ProductName, item.ProductType, item.Quantity, item.UnitPriceCents, item.TotalCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
			return nil, err
		}
		items[i] = item
	}
	reservation.Items = items

	for _, mechanicID := range reservation.MechanicIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservation_mechanics (reservation_id, mechanic_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, reservation.ID, mechanicID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: mechanic %s", store.ErrNotFound, mechanicID)
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return getReservationWhere(ctx, s.db, `id = $1`, id, false)
}

func (s *Store) GetReservationByToken(ctx context.Context, token string) (*domain.Reservation, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return getReservationWhere(ctx, s.db, `qr_token = $1`, token, false)
}

func getReservationWhere(ctx context.Context, q queryer, where string, arg any, lock bool) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}
	r, err := scanReservation(q.QueryRowContext(ctx, query, arg).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	reservations := []domain.Reservation{r}
	if err := loadReservationDetails(ctx, q, reservations); err != nil {
		return nil, err
	}
	return &reservations[0], nil
}

func (s *Store) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR status = $2)
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY scheduled_at, id
	`, filter.BranchID, filter.Status, timeBound(filter.From), timeBound(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reservations := make([]domain.Reservation, 0, 16)
	for rows.Next() {
		r, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := loadReservationDetails(ctx, s.db, reservations); err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *Store) UpdateReservationStatus(ctx context.Context, id string, status string, at time.Time) (*domain.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	reservation, err := getReservationWhere(ctx, tx, `id = $1`, id, true)
	if err != nil {
		return nil, err
	}
	if domain.IsFinalReservationStatus(reservation.Status) {
		return nil, fmt.Errorf("%w: reservation is already %s", store.ErrConflict, reservation.Status)
	}
	if status == domain.ReservationStatusCompleted || !domain.IsReservationStatus(status) {
		return nil, store.ErrInvalidRequest
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	reservation.Status = status
	reservation.UpdatedAt = at
	return reservation, nil
}

func (s *Store) CompleteReservation(ctx context.Context, id string, sale domain.Sale) (*domain.Reservation, *domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	reservation, err := getReservationWhere(ctx, tx, `id = $1`, id, true)
	if err != nil {
		return nil, nil, err
	}
	if domain.IsFinalReservationStatus(reservation.Status) {
		return nil, nil, fmt.Errorf("%w: reservation is already %s", store.ErrConflict, reservation.Status)
	}

	sale.BranchID = reservation.BranchID
	sale.CustomerName = reservation.CustomerName
	sale.ReservationID = reservation.ID
	sale.MechanicIDs = append([]string(nil), reservation.MechanicIDs...)
	sale.Items = domain.SaleItemsFromReservation(reservation.Items)
	sale.SubtotalCents = reservation.TotalCents
	sale.TotalCents = reservation.TotalCents
	if sale.PaidCents < sale.TotalCents {
		sale.PaidCents = sale.TotalCents
	}
	sale.ChangeCents = sale.PaidCents - sale.TotalCents

	created, err := insertSaleTx(ctx, tx, sale)
	if err != nil {
		return nil, nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE reservations SET status = $2, sale_id = $3, updated_at = $4 WHERE id = $1
	`, reservation.ID, domain.ReservationStatusCompleted, created.ID, created.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	reservation.Status = domain.ReservationStatusCompleted
	reservation.SaleID = created.ID
	reservation.UpdatedAt = created.CreatedAt
	return reservation, created, nil
}

func loadReservationDetails(ctx context.Context, q queryer, reservations []domain.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}
	ids := make([]string, len(reservations))
	index := make(map[string]int, len(reservations))
	for i := range reservations {
		ids[i] = reservations[i].ID
		index[reservations[i].ID] = i
		reservations[i].Items = []domain.ReservationItem{}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, reservation_id, product_id, product_name, product_type, quantity, unit_price_cents, total_cents
		FROM reservation_items
		WHERE reservation_id = ANY($1)
		ORDER BY reservation_id, position
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var item domain.ReservationItem
		if err := rows.Scan(&item.ID, &item.ReservationID, &item.ProductID, &item.ProductName, &item.ProductType, &item.Quantity, &item.UnitPriceCents, &item.TotalCents); err != nil {
			rows.Close()
			return err
		}
		i := index[item.ReservationID]
		reservations[i].Items = append(reservations[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT reservation_id, mechanic_id FROM reservation_mechanics
		WHERE reservation_id = ANY($1)
		ORDER BY reservation_id, mechanic_id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var reservationID, mechanicID string
		if err := rows.Scan(&reservationID, &mechanicID); err != nil {
			return err
		}
		i := index[reservationID]
		reservations[i].MechanicIDs = append(reservations[i].MechanicIDs, mechanicID)
	}
	return rows.Err()
}
