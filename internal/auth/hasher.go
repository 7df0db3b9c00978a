package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordTooLong = errors.New("password too long")

// Hasher hashes passwords with bcrypt. It keeps a hash of a random value so
// lookups for unknown users can burn the same time as a real comparison.
type Hasher struct {
	cost  int
	dummy []byte
}

func NewHasher(cost int) (*Hasher, error) {
	const op = "auth.NewHasher"

	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%s: bcrypt cost %d out of range", op, cost)
	}

	seed, err := RandomToken(16)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(seed), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Hasher{cost: cost, dummy: dummy}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	const op = "auth.Hash"

	if len(password) > MaxPasswordLength {
		return "", fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

func (h *Hasher) Verify(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// VerifyDummy always reports false after a full-cost comparison.
func (h *Hasher) VerifyDummy(password string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
	return false
}
