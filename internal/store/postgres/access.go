package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

const userColumns = `id, username, full_name, password_hash, role, COALESCE(branch_id, ''), active, created_at`

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	if err := scan(&u.ID, &u.Username, &u.FullName, &u.PasswordHash, &u.Role, &u.BranchID, &u.Active, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, branchID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY username
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return nil, store.ErrInvalidRequest
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, password_hash, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, user.ID, user.Username, user.FullName, user.PasswordHash, user.Role, nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: role %s or branch %s", store.ErrNotFound, user.Role, user.BranchID)
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser keeps the stored password hash when user.PasswordHash is empty.
func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	updated, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2,
			password_hash = COALESCE(NULLIF($3, ''), password_hash),
			role = $4,
			branch_id = $5,
			active = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns,
		user.ID, user.FullName, user.PasswordHash, user.Role, nullIfEmpty(user.BranchID), user.Active).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: role %s or branch %s", store.ErrNotFound, user.Role, user.BranchID)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidRequest
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, label, built_in, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]domain.Role, 0, 8)
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.Name, &role.Label, &role.BuiltIn, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.CreatedAt = role.CreatedAt.UTC()
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) GetRole(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := s.db.QueryRowContext(ctx, `
		SELECT name, label, built_in, created_at FROM roles WHERE name = $1
	`, name).Scan(&role.Name, &role.Label, &role.BuiltIn, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	role.CreatedAt = role.CreatedAt.UTC()
	return &role, nil
}

func (s *Store) CreateRole(ctx context.Context, role domain.Role) (*domain.Role, error) {
	if role.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (name, label, built_in, created_at) VALUES ($1,$2,$3,$4)
	`, role.Name, role.Label, role.BuiltIn, role.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: role %s already exists", store.ErrConflict, role.Name)
		}
		return nil, err
	}
	return &role, nil
}

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE name = $1`, name)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: role %s is still assigned", store.ErrConflict, name)
		}
		return err
	}
	return requireAffected(res)
}

func (s *Store) CountUsersWithRole(ctx context.Context, name string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE role = $1`, name).Scan(&count)
	return count, err
}

const menuColumns = `m.id, m.key, m.label, m.path, m.sort_order, m.created_at`

func scanMenus(rows *sql.Rows) ([]domain.Menu, error) {
	defer rows.Close()

	menus := make([]domain.Menu, 0, 16)
	for rows.Next() {
		var menu domain.Menu
		if err := rows.Scan(&menu.ID, &menu.Key, &menu.Label, &menu.Path, &menu.SortOrder, &menu.CreatedAt); err != nil {
			return nil, err
		}
		menu.CreatedAt = menu.CreatedAt.UTC()
		menus = append(menus, menu)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return menus, nil
}

func (s *Store) ListMenus(ctx context.Context) ([]domain.Menu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+` FROM menus m ORDER BY m.sort_order, m.key`)
	if err != nil {
		return nil, err
	}
	return scanMenus(rows)
}

func (s *Store) CreateMenu(ctx context.Context, menu domain.Menu) (*domain.Menu, error) {
	if menu.Key == "" || menu.Label == "" {
		return nil, store.ErrInvalidRequest
	}
	if menu.ID == "" {
		menu.ID = xid.New("menu")
	}
	if menu.CreatedAt.IsZero() {
		menu.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menus (id, key, label, path, sort_order, created_at) VALUES ($1,$2,$3,$4,$5,$6)
	`, menu.ID, menu.Key, menu.Label, menu.Path, menu.SortOrder, menu.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: menu %s already exists", store.ErrConflict, menu.Key)
		}
		return nil, err
	}
	return &menu, nil
}

func (s *Store) DeleteMenu(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM menus WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) SetUserMenus(ctx context.Context, userID string, menuIDs []string) error {
	return s.replaceMenus(ctx, "users", "user_menus", "user_id", userID, menuIDs)
}

func (s *Store) SetBranchMenus(ctx context.Context, branchID string, menuIDs []string) error {
	return s.replaceMenus(ctx, "branches", "branch_menus", "branch_id", branchID, menuIDs)
}

// replaceMenus swaps the full menu assignment of one owner row. Table and
// column names are package constants, never caller input.
func (s *Store) replaceMenus(ctx context.Context, ownerTable, table, ownerColumn, ownerID string, menuIDs []string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+ownerTable+` WHERE id = $1)`, ownerID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, strings.TrimSuffix(ownerColumn, "_id"), ownerID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+ownerColumn+` = $1`, ownerID); err != nil {
		return err
	}
	for _, menuID := range menuIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+table+` (`+ownerColumn+`, menu_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, ownerID, menuID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: menu %s", store.ErrNotFound, menuID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListMenusForUser(ctx context.Context, userID string, branchID string) ([]domain.Menu, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+menuColumns+`
		FROM menus m
		WHERE m.id IN (
			SELECT menu_id FROM user_menus WHERE user_id = $1
			UNION
			SELECT menu_id FROM branch_menus WHERE branch_id = $2
		)
		ORDER BY m.sort_order, m.key
	`, userID, branchID)
	if err != nil {
		return nil, err
	}
	return scanMenus(rows)
}

const attendanceColumns = `id, user_id, username, branch_id, work_date::text, clock_in, clock_out, notes`

func scanAttendance(scan func(dest ...any) error) (domain.Attendance, error) {
	var a domain.Attendance
	var clockOut sql.NullTime
	if err := scan(&a.ID, &a.UserID, &a.Username, &a.BranchID, &a.WorkDate, &a.ClockIn, &clockOut, &a.Notes); err != nil {
		return domain.Attendance{}, err
	}
	a.ClockIn = a.ClockIn.UTC()
	a.ClockOut = timePtr(clockOut)
	return a, nil
}

func (s *Store) ClockIn(ctx context.Context, attendance domain.Attendance) (*domain.Attendance, error) {
	if attendance.ID == "" {
		attendance.ID = xid.New("att")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendances (id, user_id, username, branch_id, work_date, clock_in, clock_out, notes)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8)
	`, attendance.ID, attendance.UserID, attendance.Username, attendance.BranchID, attendance.WorkDate,
		attendance.ClockIn, nullTime(attendance.ClockOut), attendance.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: already clocked in on %s", store.ErrConflict, attendance.WorkDate)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %s or branch %s", store.ErrNotFound, attendance.UserID, attendance.BranchID)
		}
		return nil, err
	}
	return &attendance, nil
}

func (s *Store) ClockOut(ctx context.Context, userID string, workDate string, at time.Time, notes string) (*domain.Attendance, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAttendance(tx.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE user_id = $1 AND work_date = $2::date
		FOR UPDATE
	`, userID, workDate).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no clock-in on %s", store.ErrNotFound, workDate)
		}
		return nil, err
	}
	if a.ClockOut != nil {
		return nil, fmt.Errorf("%w: already clocked out on %s", store.ErrConflict, workDate)
	}
	clockOut := at
	a.ClockOut = &clockOut
	if notes != "" {
		a.Notes = notes
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE attendances SET clock_out = $2, notes = $3 WHERE id = $1
	`, a.ID, clockOut, a.Notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAttendance(ctx context.Context, filter domain.AttendanceFilter) ([]domain.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR user_id = $2)
			AND ($3 = '' OR work_date >= NULLIF($3, '')::date)
			AND ($4 = '' OR work_date <= NULLIF($4, '')::date)
		ORDER BY work_date DESC, username
	`, filter.BranchID, filter.UserID, filter.From, filter.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Attendance, 0, 32)
	for rows.Next() {
		a, err := scanAttendance(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
