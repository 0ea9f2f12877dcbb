package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bengkelpos/backend/internal/analytics"
	"bengkelpos/backend/internal/domain"
	"bengkelpos/backend/internal/store"
	"bengkelpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	analytics     *analytics.Engine
	publicBaseURL string
}

func New(repo store.Repository, engine *analytics.Engine, publicBaseURL string) *Service {
	if engine == nil {
		engine = analytics.NewEngine(repo, nil, 0)
	}

	return &Service{
		repo:          repo,
		analytics:     engine,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	return actor, nil
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, domain.RoleAdmin)
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	return requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
}

// scopeBranch resolves the branch a request may read. Admins may pass any
// branch or none (all branches); everyone else is pinned to their own.
func scopeBranch(actor domain.Actor, branchID string) (string, error) {
	branchID = strings.TrimSpace(branchID)
	if actor.IsAdmin() {
		return branchID, nil
	}
	if actor.BranchID == "" {
		return "", fmt.Errorf("%w: user has no branch assigned", store.ErrForbidden)
	}
	if branchID != "" && branchID != actor.BranchID {
		return "", fmt.Errorf("%w: branch %s is outside your access", store.ErrForbidden, branchID)
	}
	return actor.BranchID, nil
}

// targetBranch is scopeBranch for writes: the result is never empty.
func targetBranch(actor domain.Actor, branchID string) (string, error) {
	resolved, err := scopeBranch(actor, branchID)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", fmt.Errorf("%w: branch_id is required", store.ErrInvalidRequest)
	}
	return resolved, nil
}

// checkBranchAccess guards a loaded entity against cross-branch access.
func checkBranchAccess(actor domain.Actor, branchID string) error {
	if actor.IsAdmin() || actor.BranchID == branchID {
		return nil
	}
	return fmt.Errorf("%w: record belongs to another branch", store.ErrForbidden)
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	branchID, err = scopeBranch(actor, branchID)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, branchID, limit)
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	if actor.Impersonator != "" {
		detail = strings.TrimSpace(detail + " impersonator=" + actor.Impersonator)
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("audit log write failed")
	}
}

func (s *Service) publicURL(path string) string {
	return s.publicBaseURL + path
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
