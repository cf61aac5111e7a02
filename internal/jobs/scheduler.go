package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"authgate/api/internal/config"
	"authgate/api/internal/security"
)

const (
	pruneLockKey = "jobs:prune_refresh_tokens:lock"
	pruneLockTTL = 10 * time.Minute
)

// TokenPruner is the slice of the repository the prune job needs.
type TokenPruner interface {
	ListWithRefreshTokens(ctx context.Context) (map[string][]string, error)
	RemoveRefreshToken(ctx context.Context, id string, token string) error
}

// Scheduler runs periodic maintenance. Its only job prunes refresh-token
// strings that no longer parse as valid tokens (expired or malformed) from
// user records. Correctness never depends on it; refresh rejects those
// tokens anyway. It just keeps the arrays from growing without bound.
type Scheduler struct {
	cron  *cron.Cron
	users TokenPruner
	cache *redis.Client
	cfg   *config.AppConfig
	log   zerolog.Logger
}

func NewScheduler(users TokenPruner, cache *redis.Client, cfg *config.AppConfig, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:  c,
		users: users,
		cache: cache,
		cfg:   cfg,
		log:   log,
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Jobs.PruneEnabled {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.Jobs.PruneSpec, s.pruneExpiredTokens); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish, up to a
// short grace period.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) pruneExpiredTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneLockTTL)
	defer cancel()

	if s.cache != nil {
		// One instance prunes at a time; the lock expires on its own if
		// this process dies mid-run.
		acquired, err := s.cache.SetNX(ctx, pruneLockKey, time.Now().Unix(), pruneLockTTL).Result()
		if err != nil {
			s.log.Error().Err(err).Msg("prune lock failed")
			return
		}
		if !acquired {
			return
		}
		defer s.cache.Del(context.Background(), pruneLockKey)
	}

	s.PruneExpiredTokens(ctx)
}

// PruneExpiredTokens is exported for the CLI and for tests; the cron entry
// wraps it with the redis lock.
func (s *Scheduler) PruneExpiredTokens(ctx context.Context) {
	byUser, err := s.users.ListWithRefreshTokens(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("prune listing failed")
		return
	}

	pruned := 0
	for userID, tokens := range byUser {
		for _, token := range tokens {
			if _, err := security.ParseToken(token, s.cfg.Security.JWTRefreshSecret); err == nil {
				continue
			}
			if err := s.users.RemoveRefreshToken(ctx, userID, token); err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("prune remove failed")
				continue
			}
			pruned++
		}
	}

	if pruned > 0 {
		s.log.Info().Int("pruned", pruned).Msg("expired refresh tokens pruned")
	}
}
