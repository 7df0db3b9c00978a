package auth

import (
	"errors"
	"fmt"
	"time"

	"payauth_service/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
)

type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenManager(secret, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth.NewTokenManager: empty secret")
	}

	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue signs a token for id that expires ttl from now.
func (m *TokenManager) Issue(id models.Identity, ttl time.Duration) (string, time.Time, error) {
	const op = "auth.Issue"

	issuedAt := m.now()
	expiresAt := issuedAt.Add(ttl)

	claims := &Claims{
		UserID:   id.UserID,
		Email:    id.Email,
		FullName: id.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, expiresAt, nil
}

// Verify returns the identity carried by token. Failures wrap ErrTokenExpired,
// ErrTokenMalformed or ErrTokenSignature; anything else is returned as is.
func (m *TokenManager) Verify(token string) (models.Identity, error) {
	const op = "auth.Verify"

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return models.Identity{}, fmt.Errorf("%s: %w: %w", op, ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return models.Identity{}, fmt.Errorf("%s: %w: %w", op, ErrTokenSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, fmt.Errorf("%s: %w: %w", op, ErrTokenExpired, err)
	default:
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if claims.UserID == uuid.Nil {
		return models.Identity{}, fmt.Errorf("%s: %w: missing user id", op, ErrTokenMalformed)
	}

	return models.Identity{
		UserID:   claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
	}, nil
}
