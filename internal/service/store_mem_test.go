package service

import (
	"context"
	"sync"

	"authgate/api/internal/models"
	"authgate/api/internal/repository"
)

// memStore implements the store interfaces with the same per-user atomicity
// the postgres repository provides: every mutation holds the lock across the
// presence check and the write, so a refresh token can be rotated at most
// once under concurrent callers.
type memStore struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (m *memStore) Create(_ context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	stored := user
	m.byID[user.ID] = &stored
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	user, err := m.FindCredentialsByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = nil
	user.RefreshTokens = nil
	return user, nil
}

func (m *memStore) FindCredentialsByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return *m.byID[id], nil
}

func (m *memStore) GetByID(_ context.Context, id string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	result := *user
	result.PasswordHash = nil
	result.RefreshTokens = nil
	return result, nil
}

func (m *memStore) AppendRefreshToken(_ context.Context, id string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.RefreshTokens = append(user.RefreshTokens, token)
	return nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, id string, old string, replacement string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrTokenNotFound
	}
	for i, token := range user.RefreshTokens {
		if token == old {
			user.RefreshTokens = append(user.RefreshTokens[:i], user.RefreshTokens[i+1:]...)
			user.RefreshTokens = append(user.RefreshTokens, replacement)
			return nil
		}
	}
	return repository.ErrTokenNotFound
}

func (m *memStore) RemoveRefreshToken(_ context.Context, id string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	for i, stored := range user.RefreshTokens {
		if stored == token {
			user.RefreshTokens = append(user.RefreshTokens[:i], user.RefreshTokens[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memStore) ClearRefreshTokens(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.RefreshTokens = nil
	return nil
}

func (m *memStore) List(_ context.Context, limit int, offset int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []models.User
	for _, user := range m.byID {
		result := *user
		result.PasswordHash = nil
		result.RefreshTokens = nil
		users = append(users, result)
	}
	if offset >= len(users) {
		return nil, nil
	}
	users = users[offset:]
	if limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (m *memStore) UpdateRole(_ context.Context, id string, role models.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.Role = role
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	delete(m.byEmail, user.Email)
	delete(m.byID, id)
	return nil
}

func (m *memStore) Stats(_ context.Context) (repository.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats repository.DashboardStats
	for _, user := range m.byID {
		stats.TotalUsers++
		switch user.Role {
		case models.UserRoleAdmin:
			stats.TotalAdmins++
		case models.UserRoleUser:
			stats.TotalRegular++
		}
		if user.IsVerified {
			stats.VerifiedUsers++
		}
	}
	stats.UnverifiedUsers = stats.TotalUsers - stats.VerifiedUsers
	return stats, nil
}

// tokenCount reports how many refresh tokens a user currently holds.
func (m *memStore) tokenCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return 0
	}
	return len(user.RefreshTokens)
}
