package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/api/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrTokenNotFound means a conditional refresh-token mutation matched no
	// row: either the user is gone or the token is not in the stored set.
	ErrTokenNotFound = errors.New("refresh token not found")
)

// UserRepository persists users. Default reads project away password_hash and
// refresh_tokens; the credential and token operations below are the only ways
// to touch them.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// uniqueViolation is the postgres error code the unique email index raises.
// Registration correctness under concurrent inserts rests on this, not on any
// prior existence check.
const uniqueViolation = "23505"

func (r *UserRepository) Create(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (
			id, email, password_hash, role, is_verified, refresh_tokens, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW(), NOW()
		)
	`

	tokens := user.RefreshTokens
	if tokens == nil {
		tokens = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.IsVerified,
		tokens,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, role, is_verified, created_at, updated_at
		FROM users WHERE email = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// FindCredentialsByEmail includes password_hash for verification. Callers
// must not hand the result back to clients.
func (r *UserRepository) FindCredentialsByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, is_verified, created_at, updated_at
		FROM users WHERE email = $1
	`

	row := r.pool.QueryRow(ctx, query, email)
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, email, role, is_verified, created_at, updated_at
		FROM users WHERE id = $1
	`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *UserRepository) List(ctx context.Context, limit int, offset int) ([]models.User, error) {
	const query = `
		SELECT id, email, role, is_verified, created_at, updated_at
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	const query = `
		UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id, role)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AppendRefreshToken adds a newly issued token to the user's set.
func (r *UserRepository) AppendRefreshToken(ctx context.Context, id string, token string) error {
	const query = `
		UPDATE users
		SET refresh_tokens = array_append(refresh_tokens, $2), updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id, token)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RotateRefreshToken swaps old for new in one statement. The WHERE clause
// makes the presence check and the mutation a single atomic read-modify-write
// under the row lock, so a token can be rotated at most once: of two
// concurrent calls presenting the same token, exactly one sees a row match.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id string, old string, replacement string) error {
	const query = `
		UPDATE users
		SET refresh_tokens = array_append(array_remove(refresh_tokens, $2), $3),
		    updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(refresh_tokens)
	`
	cmd, err := r.pool.Exec(ctx, query, id, old, replacement)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// RemoveRefreshToken drops one token if present. Idempotent: a token already
// absent is not an error, only a missing user is.
func (r *UserRepository) RemoveRefreshToken(ctx context.Context, id string, token string) error {
	const query = `
		UPDATE users
		SET refresh_tokens = array_remove(refresh_tokens, $2), updated_at = NOW()
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id, token)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) ClearRefreshTokens(ctx context.Context, id string) error {
	const query = `
		UPDATE users SET refresh_tokens = '{}', updated_at = NOW() WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListWithRefreshTokens streams user ids and their stored token sets for the
// pruning job. Only users holding at least one token are returned.
func (r *UserRepository) ListWithRefreshTokens(ctx context.Context) (map[string][]string, error) {
	const query = `
		SELECT id, refresh_tokens FROM users WHERE cardinality(refresh_tokens) > 0
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var id string
		var tokens []string
		if err := rows.Scan(&id, &tokens); err != nil {
			return nil, err
		}
		result[id] = tokens
	}
	return result, rows.Err()
}

type DashboardStats struct {
	TotalUsers      int `json:"totalUsers"`
	TotalAdmins     int `json:"totalAdmins"`
	TotalRegular    int `json:"totalRegularUsers"`
	VerifiedUsers   int `json:"verifiedUsers"`
	UnverifiedUsers int `json:"unverifiedUsers"`
}

func (r *UserRepository) Stats(ctx context.Context) (DashboardStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE role = 'user'),
			COUNT(*) FILTER (WHERE is_verified)
		FROM users
	`

	row := r.pool.QueryRow(ctx, query)
	var stats DashboardStats
	if err := row.Scan(
		&stats.TotalUsers,
		&stats.TotalAdmins,
		&stats.TotalRegular,
		&stats.VerifiedUsers,
	); err != nil {
		return DashboardStats{}, err
	}
	stats.UnverifiedUsers = stats.TotalUsers - stats.VerifiedUsers
	return stats, nil
}
