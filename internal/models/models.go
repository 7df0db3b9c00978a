package models

import (
	"time"

	"github.com/gofrs/uuid"
)

const DefaultRole = "user"

type User struct {
	ID                uuid.UUID `json:"id"`
	FullName          string    `json:"fullName"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	IsActive          bool      `json:"isActive"`
	PaymentCustomerID string    `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ResetToken is the stored side of a password reset token. Only the
// SHA-256 digest of the token value is kept.
type ResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsUsed    bool
	CreatedAt time.Time
}

// Identity is the verified caller attached to a request by the bearer middleware.
type Identity struct {
	UserID   uuid.UUID
	Email    string
	FullName string
}
