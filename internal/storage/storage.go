package storage

import (
	"context"
	"errors"
	"time"

	"payauth_service/internal/models"

	"github.com/gofrs/uuid"
)

const (
	usersTable       = "users"
	rolesTable       = "roles"
	userRolesTable   = "user_roles"
	resetTokensTable = "password_reset_tokens"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrRoleNotFound       = errors.New("role not found")
	ErrResetTokenNotFound = errors.New("reset token not found")
	ErrResetTokenUsed     = errors.New("reset token already used")
	ErrResetTokenExpired  = errors.New("reset token expired")
	ErrTimeout            = errors.New("storage timeout")
)

type Storage interface {
	// Users
	CreateUser(ctx context.Context, user models.User, roleName string) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserRoles(ctx context.Context, userID uuid.UUID) ([]string, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, updatedAt time.Time) error
	// SetPaymentCustomer links customerID unless the user already has a
	// customer, and returns the customer id that is stored afterwards.
	SetPaymentCustomer(ctx context.Context, userID uuid.UUID, customerID string) (string, error)

	// Password reset tokens
	CreateResetToken(ctx context.Context, token models.ResetToken) error
	// RedeemResetToken marks the token used and sets the owner's password
	// hash in one transaction. Exactly one concurrent caller succeeds.
	RedeemResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, error)

	Ping(ctx context.Context) error
	Close()
}
