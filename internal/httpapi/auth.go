package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/service"
	"bengkelpos/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role         string `json:"role"`
	BranchID     string `json:"branch_id,omitempty"`
	Impersonator string `json:"impersonator,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}

	if !isPasswordHash(user.PasswordHash) {
		if !legacyPasswordMatches(user.PasswordHash, req.Password) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		a.upgradeLegacyPassword(ctx, user.Username, req.Password)
	} else if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, ErrAccountInactive
	}

	return a.Issue(*user, "")
}

// Issue signs a token for user. A non-empty impersonator marks the session as
// an admin acting as user.
func (a *AuthManager) Issue(user domain.User, impersonator string) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, impersonator, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken:  token,
		Username:     user.Username,
		Role:         user.Role,
		BranchID:     user.BranchID,
		Impersonator: impersonator,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		Username:     sub,
		Role:         claims.Role,
		BranchID:     claims.BranchID,
		Impersonator: claims.Impersonator,
	}, nil
}

func (a *AuthManager) sign(user domain.User, impersonator string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "bengkelpos",
		},
		Role:         user.Role,
		BranchID:     user.BranchID,
		Impersonator: impersonator,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// EnsureAdmin creates the bootstrap admin account when no account with that
// username exists yet. It reports whether an account was created.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return false, nil
	}
	_, err := a.userStore.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if len(password) < 8 {
		return false, fmt.Errorf("bootstrap admin password must be at least 8 characters")
	}

	hashed, err := service.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := a.userStore.CreateUser(ctx, domain.User{
		Username:     username,
		FullName:     "System Admin",
		PasswordHash: hashed,
		Role:         domain.RoleAdmin,
		Active:       true,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// upgradeLegacyPassword replaces a plain-text password with its bcrypt hash.
// A failed upgrade does not fail the login.
func (a *AuthManager) upgradeLegacyPassword(ctx context.Context, username string, password string) {
	hashed, err := service.HashPassword(password)
	if err == nil {
		err = a.userStore.UpdateUserPassword(ctx, username, hashed)
	}
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("legacy password upgrade failed")
	}
}

func legacyPasswordMatches(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
