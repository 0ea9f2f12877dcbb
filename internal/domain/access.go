package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	BranchID     string `json:"branch_id,omitempty"`
	Impersonator string `json:"impersonator,omitempty"`
	ExpiresAt    string `json:"expires_at"`
}

type MeResponse struct {
	User         User   `json:"user"`
	Impersonator string `json:"impersonator,omitempty"`
}

// User is both the API view and the persistence model; the hash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	BranchID     string    `json:"branch_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

type UserUpdateRequest struct {
	FullName *string `json:"full_name,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
	BranchID *string `json:"branch_id,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}

type Role struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	BuiltIn   bool      `json:"built_in"`
	CreatedAt time.Time `json:"created_at"`
}

type RoleCreateRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type Menu struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Label     string    `json:"label"`
	Path      string    `json:"path"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type MenuCreateRequest struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Path      string `json:"path"`
	SortOrder int    `json:"sort_order"`
}

type MenuAssignRequest struct {
	MenuIDs []string `json:"menu_ids"`
}

type Attendance struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	BranchID string     `json:"branch_id"`
	WorkDate string     `json:"work_date"`
	ClockIn  time.Time  `json:"clock_in"`
	ClockOut *time.Time `json:"clock_out,omitempty"`
	Notes    string     `json:"notes,omitempty"`
}

type ClockRequest struct {
	Notes string `json:"notes,omitempty"`
}

type AttendanceFilter struct {
	BranchID string
	UserID   string
	From     string
	To       string
}

func IsBuiltInRole(name string) bool {
	switch name {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	}
	return false
}
