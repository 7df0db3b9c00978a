package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"payauth_service/internal/apperr"
	"payauth_service/internal/auth"
	"payauth_service/internal/models"
	"payauth_service/internal/storage"

	"github.com/gofrs/uuid"
)

var (
	ErrMissingFields         = apperr.Validation("All fields are required")
	ErrInvalidEmail          = apperr.Validation("Invalid email format")
	ErrWeakPassword          = apperr.Validation(auth.PasswordRequirements)
	ErrPasswordTooLong       = apperr.Validation(auth.PasswordTooLongMessage)
	ErrEmailTaken            = apperr.Conflict("User with this email already exists")
	ErrInvalidCredentials    = apperr.Authentication("Invalid email or password")
	ErrWrongCurrentPassword  = apperr.Authentication("Current password is incorrect")
	ErrUserNotFound          = apperr.NotFound("User not found")
	ErrInvalidOrExpiredToken = apperr.Validation("Invalid or expired token")
)

type Service interface {
	Signup(ctx context.Context, fullName, email, password string) (AuthResult, error)
	Signin(ctx context.Context, email, password string) (AuthResult, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type AuthResult struct {
	User      models.User
	Token     string
	ExpiresAt time.Time
}

type Options struct {
	SessionTTL    time.Duration
	ResetTokenTTL time.Duration
}

type AuthService struct {
	log        *slog.Logger
	storage    storage.Storage
	hasher     *auth.Hasher
	tokens     *auth.TokenManager
	resets     *ResetTokens
	notifier   Notifier
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(log *slog.Logger, st storage.Storage, hasher *auth.Hasher, tokens *auth.TokenManager, notifier Notifier, opts Options) *AuthService {
	return &AuthService{
		log:        log,
		storage:    st,
		hasher:     hasher,
		tokens:     tokens,
		resets:     NewResetTokens(st, hasher, opts.ResetTokenTTL),
		notifier:   notifier,
		sessionTTL: opts.SessionTTL,
		now:        time.Now,
	}
}

func internalError(op string, err error) error {
	e := apperr.Internal(fmt.Errorf("%s: %w", op, err))
	e.Retryable = errors.Is(err, storage.ErrTimeout)
	return e
}

func checkNewPassword(password string) error {
	if auth.PasswordTooLong(password) {
		return ErrPasswordTooLong
	}
	if !auth.ValidPassword(password) {
		return ErrWeakPassword
	}
	return nil
}

func (s *AuthService) Signup(ctx context.Context, fullName, email, password string) (AuthResult, error) {
	const op = "service.Signup"

	fullName = strings.TrimSpace(fullName)
	if fullName == "" || email == "" || password == "" {
		return AuthResult{}, ErrMissingFields
	}
	if !auth.ValidEmail(email) {
		return AuthResult{}, ErrInvalidEmail
	}
	if err := checkNewPassword(password); err != nil {
		return AuthResult{}, err
	}

	_, err := s.storage.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return AuthResult{}, ErrEmailTaken
	case !errors.Is(err, storage.ErrNotFound):
		return AuthResult{}, internalError(op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	now := s.now().UTC()
	user := models.User{
		ID:           id,
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// A concurrent signup can still win the unique index after the check above.
	err = s.storage.CreateUser(ctx, user, models.DefaultRole)
	if errors.Is(err, storage.ErrEmailExists) {
		return AuthResult{}, ErrEmailTaken
	}
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	res, err := s.session(user)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	s.log.InfoContext(ctx, "user signed up", slog.String("op", op), slog.String("user_id", user.ID.String()))

	return res, nil
}

func (s *AuthService) Signin(ctx context.Context, email, password string) (AuthResult, error) {
	const op = "service.Signin"

	if email == "" || password == "" {
		return AuthResult{}, ErrMissingFields
	}
	if !auth.ValidEmail(email) {
		return AuthResult{}, ErrInvalidEmail
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		s.hasher.VerifyDummy(password)
		return AuthResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) || !user.IsActive {
		return AuthResult{}, ErrInvalidCredentials
	}

	res, err := s.session(user)
	if err != nil {
		return AuthResult{}, internalError(op, err)
	}

	s.log.InfoContext(ctx, "user signed in", slog.String("op", op), slog.String("user_id", user.ID.String()))

	return res, nil
}

func (s *AuthService) session(user models.User) (AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(models.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	}, s.sessionTTL)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	const op = "service.ChangePassword"

	if currentPassword == "" || newPassword == "" {
		return ErrMissingFields
	}
	if err := checkNewPassword(newPassword); err != nil {
		return err
	}

	user, err := s.storage.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return internalError(op, err)
	}

	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return ErrWrongCurrentPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return internalError(op, err)
	}

	if err := s.storage.UpdatePassword(ctx, userID, hash, s.now().UTC()); err != nil {
		return internalError(op, err)
	}

	s.log.InfoContext(ctx, "password changed", slog.String("op", op), slog.String("user_id", userID.String()))

	return nil
}

func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	const op = "service.ForgotPassword"

	if email == "" {
		return ErrMissingFields
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return internalError(op, err)
	}

	token, expiresAt, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		return internalError(op, err)
	}

	if err := s.notifier.SendResetToken(ctx, user, token, expiresAt); err != nil {
		return internalError(op, err)
	}

	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "service.ResetPassword"

	if token == "" || newPassword == "" {
		return ErrMissingFields
	}
	if err := checkNewPassword(newPassword); err != nil {
		return err
	}

	userID, err := s.resets.Redeem(ctx, token, newPassword)
	switch {
	case errors.Is(err, storage.ErrResetTokenNotFound),
		errors.Is(err, storage.ErrResetTokenUsed),
		errors.Is(err, storage.ErrResetTokenExpired):
		return apperr.Wrap(ErrInvalidOrExpiredToken, err)
	case err != nil:
		return internalError(op, err)
	}

	s.log.InfoContext(ctx, "password reset", slog.String("op", op), slog.String("user_id", userID.String()))

	return nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "service.GetUser"

	user, err := s.storage.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, internalError(op, err)
	}

	return user, nil
}

func (s *AuthService) GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const op = "service.GetRoles"

	roles, err := s.storage.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, internalError(op, err)
	}
	if roles == nil {
		roles = []string{}
	}

	return roles, nil
}
