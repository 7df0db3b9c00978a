package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payauth_service/internal/models"

	"github.com/gofrs/uuid"
)

// MemoryStorage keeps everything in process memory. One mutex guards all
// maps, which makes every method a transaction.
type MemoryStorage struct {
	mu          sync.Mutex
	users       map[uuid.UUID]models.User
	emails      map[string]uuid.UUID
	roles       map[string]int
	userRoles   map[uuid.UUID][]string
	resetTokens map[string]models.ResetToken
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:       make(map[uuid.UUID]models.User),
		emails:      make(map[string]uuid.UUID),
		roles:       map[string]int{models.DefaultRole: 1, "admin": 2},
		userRoles:   make(map[uuid.UUID][]string),
		resetTokens: make(map[string]models.ResetToken),
	}
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user models.User, roleName string) error {
	const op = "storage.CreateUser"

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.emails[user.Email]; ok {
		return fmt.Errorf("%s: %w", op, ErrEmailExists)
	}
	if _, ok := m.roles[roleName]; !ok {
		return fmt.Errorf("%s: %w: %s", op, ErrRoleNotFound, roleName)
	}

	m.users[user.ID] = user
	m.emails[user.Email] = user.ID
	m.userRoles[user.ID] = []string{roleName}

	return nil
}

func (m *MemoryStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return user, nil
}

func (m *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.emails[email]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return m.users[id], nil
}

func (m *MemoryStorage) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roles := append([]string(nil), m.userRoles[userID]...)
	sort.Strings(roles)

	return roles, nil
}

func (m *MemoryStorage) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	const op = "storage.UpdatePassword"

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	m.users[userID] = user

	return nil
}

func (m *MemoryStorage) SetPaymentCustomer(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	const op = "storage.SetPaymentCustomer"

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if user.PaymentCustomerID != "" {
		return user.PaymentCustomerID, nil
	}

	user.PaymentCustomerID = customerID
	m.users[userID] = user

	return customerID, nil
}

func (m *MemoryStorage) CreateResetToken(ctx context.Context, token models.ResetToken) error {
	const op = "storage.CreateResetToken"

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[token.UserID]; !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	m.resetTokens[token.TokenHash] = token

	return nil
}

func (m *MemoryStorage) RedeemResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, error) {
	const op = "storage.RedeemResetToken"

	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.resetTokens[tokenHash]
	switch {
	case !ok:
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrResetTokenNotFound)
	case token.IsUsed:
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrResetTokenUsed)
	case !token.ExpiresAt.After(now):
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrResetTokenExpired)
	}

	user, ok := m.users[token.UserID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	user.PasswordHash = passwordHash
	user.UpdatedAt = now
	m.users[user.ID] = user

	for hash, t := range m.resetTokens {
		if t.UserID == user.ID && !t.IsUsed {
			t.IsUsed = true
			m.resetTokens[hash] = t
		}
	}

	return user.ID, nil
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() {}
