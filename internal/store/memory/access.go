package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

func (s *Store) ListUsers(_ context.Context, branchID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		if branchID != "" && user.BranchID != branchID {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	username = strings.ToLower(strings.TrimSpace(username))
	for _, user := range s.usersByID {
		if user.Username == username {
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.usersByID {
		if existing.Username == user.Username {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
	}
	if _, ok := s.rolesByName[user.Role]; !ok {
		return nil, fmt.Errorf("%w: role %s", store.ErrNotFound, user.Role)
	}
	if user.BranchID != "" {
		if _, ok := s.branches[user.BranchID]; !ok {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, user.BranchID)
		}
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByID[user.ID] = user
	return &user, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.usersByID[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.rolesByName[user.Role]; !ok {
		return nil, fmt.Errorf("%w: role %s", store.ErrNotFound, user.Role)
	}
	if user.BranchID != "" {
		if _, ok := s.branches[user.BranchID]; !ok {
			return nil, fmt.Errorf("%w: branch %s", store.ErrNotFound, user.BranchID)
		}
	}
	user.Username = current.Username
	user.CreatedAt = current.CreatedAt
	if user.PasswordHash == "" {
		user.PasswordHash = current.PasswordHash
	}
	s.usersByID[user.ID] = user
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidRequest
	}
	for id, user := range s.usersByID {
		if user.Username == username {
			user.PasswordHash = passwordHash
			s.usersByID[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListRoles(_ context.Context) ([]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]domain.Role, 0, len(s.rolesByName))
	for _, role := range s.rolesByName {
		roles = append(roles, role)
	}
	slices.SortFunc(roles, func(a, b domain.Role) int {
		return cmpString(a.Name, b.Name)
	})
	return roles, nil
}

func (s *Store) GetRole(_ context.Context, name string) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.rolesByName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &role, nil
}

func (s *Store) CreateRole(_ context.Context, role domain.Role) (*domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.rolesByName[role.Name]; exists {
		return nil, fmt.Errorf("%w: role %s already exists", store.ErrConflict, role.Name)
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	s.rolesByName[role.Name] = role
	return &role, nil
}

func (s *Store) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rolesByName[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.rolesByName, name)
	return nil
}

func (s *Store) CountUsersWithRole(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, user := range s.usersByID {
		if user.Role == name {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListMenus(_ context.Context) ([]domain.Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	menus := make([]domain.Menu, 0, len(s.menusByID))
	for _, menu := range s.menusByID {
		menus = append(menus, menu)
	}
	slices.SortFunc(menus, compareMenu)
	return menus, nil
}

func (s *Store) CreateMenu(_ context.Context, menu domain.Menu) (*domain.Menu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if menu.Key == "" || menu.Label == "" {
		return nil, store.ErrInvalidRequest
	}
	for _, existing := range s.menusByID {
		if existing.Key == menu.Key {
			return nil, fmt.Errorf("%w: menu %s already exists", store.ErrConflict, menu.Key)
		}
	}
	if menu.ID == "" {
		menu.ID = xid.New("menu")
	}
	if menu.CreatedAt.IsZero() {
		menu.CreatedAt = time.Now().UTC()
	}
	s.menusByID[menu.ID] = menu
	return &menu, nil
}

func (s *Store) DeleteMenu(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.menusByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.menusByID, id)
	for owner, ids := range s.userMenus {
		s.userMenus[owner] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	}
	for owner, ids := range s.branchMenus {
		s.branchMenus[owner] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	}
	return nil
}

func (s *Store) SetUserMenus(_ context.Context, userID string, menuIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[userID]; !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, userID)
	}
	ids, err := s.uniqueMenuIDsLocked(menuIDs)
	if err != nil {
		return err
	}
	s.userMenus[userID] = ids
	return nil
}

func (s *Store) SetBranchMenus(_ context.Context, branchID string, menuIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[branchID]; !ok {
		return fmt.Errorf("%w: branch %s", store.ErrNotFound, branchID)
	}
	ids, err := s.uniqueMenuIDsLocked(menuIDs)
	if err != nil {
		return err
	}
	s.branchMenus[branchID] = ids
	return nil
}

func (s *Store) uniqueMenuIDsLocked(menuIDs []string) ([]string, error) {
	ids := make([]string, 0, len(menuIDs))
	for _, id := range menuIDs {
		if _, ok := s.menusByID[id]; !ok {
			return nil, fmt.Errorf("%w: menu %s", store.ErrNotFound, id)
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) ListMenusForUser(_ context.Context, userID string, branchID string) ([]domain.Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	menus := make([]domain.Menu, 0, 16)
	for _, id := range append(slices.Clone(s.userMenus[userID]), s.branchMenus[branchID]...) {
		menu, ok := s.menusByID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		menus = append(menus, menu)
	}
	slices.SortFunc(menus, compareMenu)
	return menus, nil
}

func compareMenu(a, b domain.Menu) int {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder - b.SortOrder
	}
	return cmpString(a.Key, b.Key)
}

func (s *Store) ClockIn(_ context.Context, attendance domain.Attendance) (*domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attendanceByID {
		if existing.UserID == attendance.UserID && existing.WorkDate == attendance.WorkDate {
			return nil, fmt.Errorf("%w: already clocked in on %s", store.ErrConflict, attendance.WorkDate)
		}
	}
	if attendance.ID == "" {
		attendance.ID = xid.New("att")
	}
	s.attendanceByID[attendance.ID] = attendance
	return &attendance, nil
}

func (s *Store) ClockOut(_ context.Context, userID string, workDate string, at time.Time, notes string) (*domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.attendanceByID {
		if existing.UserID != userID || existing.WorkDate != workDate {
			continue
		}
		if existing.ClockOut != nil {
			return nil, fmt.Errorf("%w: already clocked out on %s", store.ErrConflict, workDate)
		}
		clockOut := at
		existing.ClockOut = &clockOut
		if notes != "" {
			existing.Notes = notes
		}
		s.attendanceByID[id] = existing
		return &existing, nil
	}
	return nil, fmt.Errorf("%w: no clock-in on %s", store.ErrNotFound, workDate)
}

func (s *Store) ListAttendance(_ context.Context, filter domain.AttendanceFilter) ([]domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Attendance, 0, len(s.attendanceByID))
	for _, a := range s.attendanceByID {
		if filter.BranchID != "" && a.BranchID != filter.BranchID {
			continue
		}
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.From != "" && a.WorkDate < filter.From {
			continue
		}
		if filter.To != "" && a.WorkDate > filter.To {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b domain.Attendance) int {
		if a.WorkDate != b.WorkDate {
			return cmpString(b.WorkDate, a.WorkDate)
		}
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}
