package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/api/internal/config"
	"authgate/api/internal/models"
	"authgate/api/internal/security"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Environment: "test",
		Security: config.SecurityConfig{
			JWTAccessSecret:  "test-access-secret",
			JWTRefreshSecret: "test-refresh-secret",
			JWTAccessTTL:     time.Minute,
			JWTRefreshTTL:    time.Hour,
		},
		Cookie: config.CookieConfig{RefreshTokenName: "refresh_token"},
	}
}

func newTestAuthService(t *testing.T) (*AuthService, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewAuthService(store, testConfig(), zerolog.Nop()), store
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleUser, registered.User.Role)
	assert.False(t, registered.User.IsVerified)
	assert.Nil(t, registered.User.PasswordHash)
	assert.NotEmpty(t, registered.Tokens.AccessToken)
	assert.NotEmpty(t, registered.Tokens.RefreshToken)

	loggedIn, err := svc.Login(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	claims, err := security.ParseToken(loggedIn.Tokens.AccessToken, "test-access-secret")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.UserID)
	assert.Equal(t, "a@x.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	result, err := svc.Register(ctx, "  MiXeD@X.Com ", "P@ssw0rd1")
	require.NoError(t, err)
	assert.Equal(t, "mixed@x.com", result.User.Email)

	_, err = svc.Login(ctx, "MIXED@x.com", "P@ssw0rd1")
	require.NoError(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)

	// Same address under different casing and whitespace.
	_, err = svc.Register(ctx, " A@X.com ", "0therP@ss")
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestLoginFailureIsUniform(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)

	// Unknown email and wrong password must be indistinguishable.
	_, unknownErr := svc.Login(ctx, "nobody@x.com", "P@ssw0rd1")
	_, wrongErr := svc.Login(ctx, "a@x.com", "wrong-password")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	original := registered.Tokens.RefreshToken

	rotated, err := svc.Refresh(ctx, original)
	require.NoError(t, err)
	assert.NotEqual(t, original, rotated.RefreshToken)
	assert.Equal(t, 1, store.tokenCount(registered.User.ID))

	// The consumed token is single-use.
	_, err = svc.Refresh(ctx, original)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// The replacement still works.
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsForgedAndExpiredTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	user := registered.User

	_, err = svc.Refresh(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Signed with the wrong secret.
	forged, err := security.SignToken("wrong-secret", user.ID, user.Email, string(user.Role), time.Hour)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Correct secret, already expired.
	expired, err := security.SignToken("test-refresh-secret", user.ID, user.Email, string(user.Role), -time.Minute)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	// Correct secret, valid signature, but never stored: membership in the
	// user's set is required, not just a good signature.
	unstored, err := security.SignToken("test-refresh-secret", user.ID, user.Email, string(user.Role), time.Hour)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, unstored)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshUnknownSubject(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, registered.User.ID))

	_, err = svc.Refresh(ctx, registered.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	token := registered.Tokens.RefreshToken

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(ctx, token)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
	assert.Equal(t, 1, successes, "exactly one concurrent refresh may rotate the token")
}

func TestLogoutRemovesOneSession(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	userID := registered.User.ID

	loggedIn, err := svc.Login(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	require.Equal(t, 2, store.tokenCount(userID))

	require.NoError(t, svc.Logout(ctx, userID, loggedIn.Tokens.RefreshToken))
	assert.Equal(t, 1, store.tokenCount(userID))

	// The removed token no longer refreshes; the surviving one does.
	_, err = svc.Refresh(ctx, loggedIn.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = svc.Refresh(ctx, registered.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	userID := registered.User.ID

	require.NoError(t, svc.Logout(ctx, userID, registered.Tokens.RefreshToken))
	require.NoError(t, svc.Logout(ctx, userID, registered.Tokens.RefreshToken))
	assert.Equal(t, 0, store.tokenCount(userID))

	// Zero stored tokens is still not an error.
	require.NoError(t, svc.Logout(ctx, userID, "anything"))

	assert.ErrorIs(t, svc.Logout(ctx, "missing-user", "token"), ErrUserNotFound)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	userID := registered.User.ID

	var tokens []string
	tokens = append(tokens, registered.Tokens.RefreshToken)
	for i := 0; i < 3; i++ {
		loggedIn, err := svc.Login(ctx, "a@x.com", "P@ssw0rd1")
		require.NoError(t, err)
		tokens = append(tokens, loggedIn.Tokens.RefreshToken)
	}
	require.Equal(t, 4, store.tokenCount(userID))

	require.NoError(t, svc.LogoutAll(ctx, userID))
	assert.Equal(t, 0, store.tokenCount(userID))

	for _, token := range tokens {
		_, err := svc.Refresh(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}

	assert.ErrorIs(t, svc.LogoutAll(ctx, "missing-user"), ErrUserNotFound)
}

func TestFullSessionScenario(t *testing.T) {
	svc, store := newTestAuthService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	userID := registered.User.ID

	_, err = svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	loggedIn, err := svc.Login(ctx, "a@x.com", "P@ssw0rd1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.tokenCount(userID))

	require.NoError(t, svc.Logout(ctx, userID, loggedIn.Tokens.RefreshToken))
	assert.Equal(t, 1, store.tokenCount(userID))

	_, err = svc.Refresh(ctx, loggedIn.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}
