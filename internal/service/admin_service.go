package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/api/internal/models"
	"authgate/api/internal/repository"
)

var (
	ErrSelfDemotion = errors.New("cannot demote yourself")
	ErrSelfDeletion = errors.New("cannot delete yourself")
	ErrInvalidRole  = errors.New("invalid role, must be \"user\" or \"admin\"")
)

// AdminStore is the slice of the repository the admin surface needs.
type AdminStore interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	List(ctx context.Context, limit int, offset int) ([]models.User, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (repository.DashboardStats, error)
}

const (
	statsCacheKey = "admin:dashboard_stats"
	statsCacheTTL = time.Minute
)

type AdminService struct {
	users AdminStore
	cache *redis.Client
	log   zerolog.Logger
}

func NewAdminService(users AdminStore, cache *redis.Client, log zerolog.Logger) *AdminService {
	return &AdminService{
		users: users,
		cache: cache,
		log:   log,
	}
}

func (s *AdminService) ListUsers(ctx context.Context, limit int, offset int) ([]models.User, error) {
	return s.users.List(ctx, limit, offset)
}

func (s *AdminService) GetUser(ctx context.Context, id string) (models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

// UpdateUserRole changes a user's role. Role changes are admin-only and an
// admin can never demote their own account, so at least one admin survives
// any sequence of role edits.
func (s *AdminService) UpdateUserRole(ctx context.Context, actorID string, userID string, role models.UserRole) (models.User, error) {
	if !role.Valid() {
		return models.User{}, ErrInvalidRole
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	if userID == actorID && role == models.UserRoleUser {
		return models.User{}, ErrSelfDemotion
	}

	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	s.log.Info().
		Str("actor_id", actorID).
		Str("user_id", userID).
		Str("role", string(role)).
		Msg("user role updated")

	user.Role = role
	s.invalidateStats(ctx)
	return user, nil
}

func (s *AdminService) DeleteUser(ctx context.Context, actorID string, userID string) error {
	if userID == actorID {
		return ErrSelfDeletion
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	s.log.Info().
		Str("actor_id", actorID).
		Str("user_id", userID).
		Msg("user deleted")

	s.invalidateStats(ctx)
	return nil
}

// DashboardStats serves counts from a short redis cache; the counts are
// informational, so a stale minute is acceptable.
func (s *AdminService) DashboardStats(ctx context.Context) (repository.DashboardStats, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var stats repository.DashboardStats
			if err := json.Unmarshal(cached, &stats); err == nil {
				return stats, nil
			}
		}
	}

	stats, err := s.users.Stats(ctx)
	if err != nil {
		return repository.DashboardStats{}, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, encoded, statsCacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Msg("stats cache write failed")
			}
		}
	}

	return stats, nil
}

func (s *AdminService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey).Err(); err != nil {
		s.log.Warn().Err(err).Msg("stats cache invalidation failed")
	}
}
