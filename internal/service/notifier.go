package service

import (
	"context"
	"log/slog"
	"time"

	"payauth_service/internal/models"
)

// Notifier delivers a reset token to its owner out of band.
type Notifier interface {
	SendResetToken(ctx context.Context, user models.User, token string, expiresAt time.Time) error
}

// LogNotifier writes reset tokens to the log. The token itself only
// appears at debug level.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendResetToken(ctx context.Context, user models.User, token string, expiresAt time.Time) error {
	log := n.log.With(slog.String("op", "service.LogNotifier.SendResetToken"), slog.String("user_id", user.ID.String()))

	log.InfoContext(ctx, "password reset token issued", slog.Time("expires_at", expiresAt))
	log.DebugContext(ctx, "password reset token", slog.String("email", user.Email), slog.String("token", token))

	return nil
}
