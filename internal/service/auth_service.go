package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"authgate/api/internal/config"
	"authgate/api/internal/ids"
	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
)

var (
	// ErrDuplicateCredential deliberately carries a vague message so the
	// register endpoint cannot be used to probe which emails exist.
	ErrDuplicateCredential = errors.New("unable to complete registration, please try again or contact support")
	// ErrInvalidCredentials is returned for unknown email and wrong password
	// alike; the two cases must stay indistinguishable to clients.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrUserNotFound        = errors.New("user not found")
)

// UserStore is the slice of the repository the auth core needs. Token
// mutations are required to be atomic per user record: RotateRefreshToken
// must check presence and swap in one step so a token is consumed at most
// once under concurrent refresh calls.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindCredentialsByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	AppendRefreshToken(ctx context.Context, id string, token string) error
	RotateRefreshToken(ctx context.Context, id string, old string, replacement string) error
	RemoveRefreshToken(ctx context.Context, id string, token string) error
	ClearRefreshTokens(ctx context.Context, id string) error
}

type AuthService struct {
	users UserStore
	cfg   *config.AppConfig
	log   zerolog.Logger
}

func NewAuthService(users UserStore, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users: users,
		cfg:   cfg,
		log:   log,
	}
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type AuthResult struct {
	User   models.User
	Tokens models.TokenPair
}

func (s *AuthService) Register(ctx context.Context, email string, password string) (AuthResult, error) {
	email = NormalizeEmail(email)

	// Advisory fast path; the unique index on users.email is what actually
	// prevents a duplicate slipping in between this check and the insert.
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, ErrDuplicateCredential
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return AuthResult{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.UserRoleUser,
		IsVerified:   false,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return AuthResult{}, ErrDuplicateCredential
		}
		return AuthResult{}, err
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.users.AppendRefreshToken(ctx, user.ID, tokens.RefreshToken); err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user registered")

	user.PasswordHash = nil
	return AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (AuthResult, error) {
	email = NormalizeEmail(email)

	user, err := s.users.FindCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return AuthResult{}, err
	}

	if err := s.users.AppendRefreshToken(ctx, user.ID, tokens.RefreshToken); err != nil {
		return AuthResult{}, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("user logged in")

	user.PasswordHash = nil
	return AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use: the rotation removes it and appends the replacement in one
// atomic store operation, so a replayed or already-revoked token fails even
// when its signature is still valid. Every failure mode collapses into
// ErrInvalidRefreshToken at this boundary.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	claims, err := security.ParseToken(refreshToken, s.cfg.Security.JWTRefreshSecret)
	if err != nil {
		s.log.Debug().Err(err).Msg("refresh token rejected by codec")
		return models.TokenPair{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.TokenPair{}, err
	}

	tokens, err := s.issueTokens(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	if err := s.users.RotateRefreshToken(ctx, user.ID, refreshToken, tokens.RefreshToken); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			s.log.Warn().Str("user_id", user.ID).Msg("refresh token not in stored set, possible replay")
			return models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.TokenPair{}, err
	}

	return tokens, nil
}

// Logout removes one refresh token from the user's set. Removing a token
// that is already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, userID string, refreshToken string) error {
	if err := s.users.RemoveRefreshToken(ctx, userID, refreshToken); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// LogoutAll empties the refresh-token set, ending every device session.
// Already-issued access tokens stay valid until natural expiry.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.users.ClearRefreshTokens(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("all sessions revoked")
	return nil
}

func (s *AuthService) issueTokens(user models.User) (models.TokenPair, error) {
	sec := s.cfg.Security

	accessToken, err := security.SignToken(sec.JWTAccessSecret, user.ID, user.Email, string(user.Role), sec.JWTAccessTTL)
	if err != nil {
		return models.TokenPair{}, err
	}

	refreshToken, err := security.SignToken(sec.JWTRefreshSecret, user.ID, user.Email, string(user.Role), sec.JWTRefreshTTL)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
