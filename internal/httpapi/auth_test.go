package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.User
	updates int
}

func (s *userStoreStub) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.User)
	}
	s.users[user.Username] = user
	return &user, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.PasswordHash = passwordHash
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.User{
			"admin": {
				Username:     "admin",
				PasswordHash: "admin123",
				Role:         domain.RoleAdmin,
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, users)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored := users.users["admin"].PasswordHash
	if stored == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored)
	}
	if users.updates != 1 {
		t.Fatalf("expected one password update, got %d", users.updates)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
	if users.updates != 1 {
		t.Fatalf("expected no second upgrade, got %d updates", users.updates)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.User{
		"cashier": {Username: "cashier", PasswordHash: mustHashPassword(t, "cashier123"), Role: domain.RoleCashier, BranchID: "br-main"},
	}}
	manager := NewAuthManager("test-secret", time.Hour, users)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestTokenCarriesBranchAndImpersonator(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})

	resp, err := manager.Issue(domain.User{Username: "cashier", Role: domain.RoleCashier, BranchID: "br-main"}, "admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := domain.Actor{Username: "cashier", Role: domain.RoleCashier, BranchID: "br-main", Impersonator: "admin"}
	if actor != want {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, &userStoreStub{})
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestEnsureAdminCreatesOnlyOnce(t *testing.T) {
	users := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, users)

	if _, err := manager.EnsureAdmin(context.Background(), "root", "short"); err == nil {
		t.Fatal("expected short bootstrap password to be rejected")
	}
	created, err := manager.EnsureAdmin(context.Background(), "Root", "long-enough-password")
	if err != nil || !created {
		t.Fatalf("expected admin to be created, got created=%v err=%v", created, err)
	}
	if users.users["root"].Role != domain.RoleAdmin || !isPasswordHash(users.users["root"].PasswordHash) {
		t.Fatalf("unexpected bootstrap admin: %+v", users.users["root"])
	}
	created, err = manager.EnsureAdmin(context.Background(), "root", "long-enough-password")
	if err != nil || created {
		t.Fatalf("expected existing admin to be kept, got created=%v err=%v", created, err)
	}
}
