package auth

import (
	"regexp"
	"unicode"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72

	PasswordRequirements   = "Password must be at least 8 characters long and contain at least one uppercase letter, one lowercase letter, and one number"
	PasswordTooLongMessage = "Password must be at most 72 bytes long"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// PasswordTooLong reports whether bcrypt would ignore part of password.
func PasswordTooLong(password string) bool {
	return len(password) > MaxPasswordLength
}

func ValidPassword(password string) bool {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return false
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	return lower && upper && digit
}
