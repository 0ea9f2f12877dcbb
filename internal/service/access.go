package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (s *Service) Me(ctx context.Context) (domain.MeResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.MeResponse{}, err
	}
	user, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return domain.MeResponse{}, err
	}
	return domain.MeResponse{User: *user, Impersonator: actor.Impersonator}, nil
}

func (s *Service) ListUsers(ctx context.Context, branchID string) ([]domain.User, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err = scopeBranch(actor, branchID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, branchID)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.User{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("%w: username must be at least 4 characters without spaces", store.ErrInvalidRequest)
	}
	if len(req.Password) < 6 {
		return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidRequest)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	branchID, err := s.userBranch(actor, role, req.BranchID)
	if err != nil {
		return domain.User{}, err
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.repo.CreateUser(ctx, domain.User{
		Username:     username,
		FullName:     defaultString(strings.TrimSpace(req.FullName), username),
		PasswordHash: hashed,
		Role:         role,
		BranchID:     branchID,
		Active:       true,
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, branchID, "user_create", "user", created.ID, fmt.Sprintf("username=%s,role=%s", created.Username, created.Role))
	return *created, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.User{}, err
	}
	current, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !actor.IsAdmin() && (current.Role != domain.RoleCashier || current.BranchID != actor.BranchID) {
		return domain.User{}, fmt.Errorf("%w: managers can only manage cashiers of their branch", store.ErrForbidden)
	}

	updated := *current
	updated.PasswordHash = ""
	if req.FullName != nil {
		updated.FullName = strings.TrimSpace(*req.FullName)
	}
	role := current.Role
	if req.Role != nil {
		role = strings.ToLower(strings.TrimSpace(*req.Role))
	}
	branchID := current.BranchID
	if req.BranchID != nil {
		branchID = strings.TrimSpace(*req.BranchID)
	}
	if role != current.Role || branchID != current.BranchID {
		if branchID, err = s.userBranch(actor, role, branchID); err != nil {
			return domain.User{}, err
		}
	}
	updated.Role = role
	updated.BranchID = branchID
	if req.Active != nil {
		if !*req.Active && current.Username == actor.Username {
			return domain.User{}, fmt.Errorf("%w: you cannot deactivate yourself", store.ErrConflict)
		}
		updated.Active = *req.Active
	}
	if req.Password != nil {
		if len(*req.Password) < 6 {
			return domain.User{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidRequest)
		}
		if updated.PasswordHash, err = HashPassword(*req.Password); err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
	}

	result, err := s.repo.UpdateUser(ctx, updated)
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, result.BranchID, "user_update", "user", result.ID,
		fmt.Sprintf("role=%s,active=%t,password_changed=%t", result.Role, result.Active, req.Password != nil))
	return *result, nil
}

// userBranch validates a role/branch pair for the acting user. Admin accounts
// carry no branch; every other account must belong to one.
func (s *Service) userBranch(actor domain.Actor, role string, branchID string) (string, error) {
	branchID = strings.TrimSpace(branchID)
	if !actor.IsAdmin() {
		if role != domain.RoleCashier {
			return "", fmt.Errorf("%w: managers can only create cashiers", store.ErrForbidden)
		}
		return targetBranch(actor, branchID)
	}
	if role == domain.RoleAdmin {
		return "", nil
	}
	if branchID == "" {
		return "", fmt.Errorf("%w: branch_id is required for %s accounts", store.ErrInvalidRequest, role)
	}
	return branchID, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]domain.Role, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListRoles(ctx)
}

func (s *Service) CreateRole(ctx context.Context, req domain.RoleCreateRequest) (domain.Role, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Role{}, err
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if !roleNamePattern.MatchString(name) {
		return domain.Role{}, fmt.Errorf("%w: role name must be a lowercase slug", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateRole(ctx, domain.Role{
		Name:  name,
		Label: defaultString(strings.TrimSpace(req.Label), name),
	})
	if err != nil {
		return domain.Role{}, err
	}

	s.logAudit(ctx, "", "role_create", "role", created.Name, "label="+created.Label)
	return *created, nil
}

func (s *Service) DeleteRole(ctx context.Context, name string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	role, err := s.repo.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.BuiltIn || domain.IsBuiltInRole(role.Name) {
		return fmt.Errorf("%w: built-in role %s cannot be deleted", store.ErrConflict, role.Name)
	}
	users, err := s.repo.CountUsersWithRole(ctx, role.Name)
	if err != nil {
		return err
	}
	if users > 0 {
		return fmt.Errorf("%w: role %s is assigned to %d users", store.ErrConflict, role.Name, users)
	}
	if err := s.repo.DeleteRole(ctx, role.Name); err != nil {
		return err
	}

	s.logAudit(ctx, "", "role_delete", "role", role.Name, "")
	return nil
}

func (s *Service) ListMenus(ctx context.Context) ([]domain.Menu, error) {
	if _, err := requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListMenus(ctx)
}

func (s *Service) CreateMenu(ctx context.Context, req domain.MenuCreateRequest) (domain.Menu, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Menu{}, err
	}
	menu := domain.Menu{
		Key:       strings.ToLower(strings.TrimSpace(req.Key)),
		Label:     strings.TrimSpace(req.Label),
		Path:      strings.TrimSpace(req.Path),
		SortOrder: req.SortOrder,
	}
	if menu.Key == "" || menu.Label == "" || !strings.HasPrefix(menu.Path, "/") {
		return domain.Menu{}, fmt.Errorf("%w: key, label and an absolute path are required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateMenu(ctx, menu)
	if err != nil {
		return domain.Menu{}, err
	}

	s.logAudit(ctx, "", "menu_create", "menu", created.ID, "key="+created.Key)
	return *created, nil
}

func (s *Service) DeleteMenu(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteMenu(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "", "menu_delete", "menu", id, "")
	return nil
}

func (s *Service) SetUserMenus(ctx context.Context, userID string, req domain.MenuAssignRequest) error {
	actor, err := requireManager(ctx)
	if err != nil {
		return err
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := checkBranchAccess(actor, user.BranchID); err != nil {
		return err
	}
	if err := s.repo.SetUserMenus(ctx, userID, req.MenuIDs); err != nil {
		return err
	}
	s.logAudit(ctx, user.BranchID, "user_menus_set", "user", userID, fmt.Sprintf("menus=%s", strings.Join(req.MenuIDs, ",")))
	return nil
}

func (s *Service) SetBranchMenus(ctx context.Context, branchID string, req domain.MenuAssignRequest) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.SetBranchMenus(ctx, branchID, req.MenuIDs); err != nil {
		return err
	}
	s.logAudit(ctx, branchID, "branch_menus_set", "branch", branchID, fmt.Sprintf("menus=%s", strings.Join(req.MenuIDs, ",")))
	return nil
}

// MyMenus returns the navigation of the current user: everything for admins,
// otherwise the union of the user's and the branch's menus.
func (s *Service) MyMenus(ctx context.Context) ([]domain.Menu, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return s.repo.ListMenus(ctx)
	}
	user, err := s.repo.GetUserByUsername(ctx, actor.Username)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMenusForUser(ctx, user.ID, user.BranchID)
}

// Impersonate checks that the acting admin may sign in as userID and returns
// the target account. Only active non-admin accounts can be impersonated.
func (s *Service) Impersonate(ctx context.Context, userID string) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	target, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if target.Role == domain.RoleAdmin {
		return domain.User{}, fmt.Errorf("%w: admin accounts cannot be impersonated", store.ErrForbidden)
	}
	if !target.Active {
		return domain.User{}, fmt.Errorf("%w: account %s is inactive", store.ErrConflict, target.Username)
	}

	s.logAudit(ctx, target.BranchID, "impersonate_start", "user", target.ID, "target="+target.Username)
	return *target, nil
}

// LeaveImpersonation returns the admin account behind an impersonated session.
func (s *Service) LeaveImpersonation(ctx context.Context) (domain.User, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if actor.Impersonator == "" {
		return domain.User{}, fmt.Errorf("%w: session is not impersonating", store.ErrInvalidRequest)
	}
	admin, err := s.repo.GetUserByUsername(ctx, actor.Impersonator)
	if err != nil {
		return domain.User{}, err
	}
	if admin.Role != domain.RoleAdmin || !admin.Active {
		return domain.User{}, fmt.Errorf("%w: impersonator is no longer an active admin", store.ErrForbidden)
	}

	s.logAudit(ctx, actor.BranchID, "impersonate_stop", "user", admin.ID, "target="+actor.Username)
	return *admin, nil
}
