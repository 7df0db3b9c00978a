package service

import (
	"context"
	"fmt"
	"time"

	"payauth_service/internal/auth"
	"payauth_service/internal/models"
	"payauth_service/internal/storage"

	"github.com/gofrs/uuid"
)

const resetTokenBytes = 32

// ResetTokens issues single-use password reset tokens and redeems them.
// Only the digest of a token is stored; the plaintext is returned once from Issue.
type ResetTokens struct {
	storage storage.Storage
	hasher  *auth.Hasher
	ttl     time.Duration
	now     func() time.Time
}

func NewResetTokens(st storage.Storage, hasher *auth.Hasher, ttl time.Duration) *ResetTokens {
	return &ResetTokens{
		storage: st,
		hasher:  hasher,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *ResetTokens) Issue(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	const op = "service.ResetTokens.Issue"

	value, err := auth.RandomToken(resetTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	now := r.now().UTC()
	token := models.ResetToken{
		ID:        id,
		UserID:    userID,
		TokenHash: auth.DigestToken(value),
		ExpiresAt: now.Add(r.ttl),
		CreatedAt: now,
	}

	if err := r.storage.CreateResetToken(ctx, token); err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return value, token.ExpiresAt, nil
}

// Redeem sets the owner's password to newPassword and consumes the token.
// It fails with storage.ErrResetTokenNotFound, ErrResetTokenUsed or
// ErrResetTokenExpired without touching the password.
func (r *ResetTokens) Redeem(ctx context.Context, value, newPassword string) (uuid.UUID, error) {
	const op = "service.ResetTokens.Redeem"

	hash, err := r.hasher.Hash(newPassword)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := r.storage.RedeemResetToken(ctx, auth.DigestToken(value), hash, r.now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return userID, nil
}
