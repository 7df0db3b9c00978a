package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payauth_service/internal/models"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

type PostgresOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	AcquireTimeout  time.Duration
	QueryTimeout    time.Duration
}

type PostgresStorage struct {
	db             *pgxpool.Pool
	acquireTimeout time.Duration
	queryTimeout   time.Duration
}

func NewPostgresStorage(ctx context.Context, dbURL string, opts PostgresOptions) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db:             pool,
		acquireTimeout: opts.AcquireTimeout,
		queryTimeout:   opts.QueryTimeout,
	}, nil
}

// conn waits at most acquireTimeout for a pooled connection. The returned
// context bounds statement execution by queryTimeout. Zero disables a bound.
func (p *PostgresStorage) conn(ctx context.Context) (*pgxpool.Conn, context.Context, func(), error) {
	actx, acancel := withTimeout(ctx, p.acquireTimeout)
	defer acancel()

	c, err := p.db.Acquire(actx)
	if err != nil {
		return nil, nil, nil, mapError(err)
	}

	qctx, qcancel := withTimeout(ctx, p.queryTimeout)

	return c, qctx, func() {
		qcancel()
		c.Release()
	}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (p *PostgresStorage) CreateUser(ctx context.Context, user models.User, roleName string) error {
	const op = "storage.CreateUser"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	tx, err := c.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`INSERT INTO %s(id, full_name, email, password_hash, is_active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`, usersTable)

	_, err = tx.Exec(ctx, query, user.ID, user.FullName, user.Email, user.PasswordHash, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrEmailExists)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	query = fmt.Sprintf(`INSERT INTO %s(user_id, role_id) SELECT $1, id FROM %s WHERE name = $2`, userRolesTable, rolesTable)

	tag, err := tx.Exec(ctx, query, user.ID, roleName)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w: %s", op, ErrRoleNotFound, roleName)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (p *PostgresStorage) getUser(ctx context.Context, op, where string, arg any) (models.User, error) {
	var (
		user       models.User
		customerID *string
	)

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	query := fmt.Sprintf(`SELECT id, full_name, email, password_hash, is_active, payment_customer_id, created_at, updated_at
	FROM %s WHERE %s = $1`, usersTable, where)

	err = c.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&customerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return user, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, mapError(err))
	}

	if customerID != nil {
		user.PaymentCustomerID = *customerID
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return p.getUser(ctx, "storage.GetUserByID", "id", userID)
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return p.getUser(ctx, "storage.GetUserByEmail", "email", email)
}

func (p *PostgresStorage) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const op = "storage.GetUserRoles"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	query := fmt.Sprintf(`SELECT r.name FROM %s r
	JOIN %s ur ON ur.role_id = r.id
	WHERE ur.user_id = $1 ORDER BY r.name`, rolesTable, userRolesTable)

	rows, err := c.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, mapError(err))
	}

	return roles, nil
}

func (p *PostgresStorage) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	const op = "storage.UpdatePassword"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	query := fmt.Sprintf("UPDATE %s SET password_hash = $1, updated_at = $2 WHERE id = $3", usersTable)

	tag, err := c.Exec(ctx, query, passwordHash, updatedAt, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

func (p *PostgresStorage) SetPaymentCustomer(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	const op = "storage.SetPaymentCustomer"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	query := fmt.Sprintf(`UPDATE %s SET payment_customer_id = $1, updated_at = now()
	WHERE id = $2 AND payment_customer_id IS NULL
	RETURNING payment_customer_id`, usersTable)

	var stored string

	err = c.QueryRow(ctx, query, customerID, userID).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, mapError(err))
	}

	// Lost the race to another request, or the user is gone.
	var existing *string

	query = fmt.Sprintf("SELECT payment_customer_id FROM %s WHERE id = $1", usersTable)

	err = c.QueryRow(ctx, query, userID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, mapError(err))
	}
	if existing == nil {
		return "", fmt.Errorf("%s: customer id not stored", op)
	}

	return *existing, nil
}

func (p *PostgresStorage) CreateResetToken(ctx context.Context, token models.ResetToken) error {
	const op = "storage.CreateResetToken"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	query := fmt.Sprintf(`INSERT INTO %s(id, user_id, token_hash, expires_at, is_used, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`, resetTokensTable)

	_, err = c.Exec(ctx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.IsUsed, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

// RedeemResetToken claims the token with a conditional update. Concurrent
// redeemers block on the row lock and then see is_used = TRUE.
func (p *PostgresStorage) RedeemResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (uuid.UUID, error) {
	const op = "storage.RedeemResetToken"

	var userID uuid.UUID

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return userID, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	tx, err := c.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return userID, fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`UPDATE %s SET is_used = TRUE
	WHERE token_hash = $1 AND is_used = FALSE AND expires_at > $2
	RETURNING user_id`, resetTokensTable)

	err = tx.QueryRow(ctx, query, tokenHash, now).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%s: %w", op, p.redeemFailure(ctx, tx, tokenHash))
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	query = fmt.Sprintf("UPDATE %s SET password_hash = $1, updated_at = $2 WHERE id = $3", usersTable)

	tag, err := tx.Exec(ctx, query, passwordHash, now, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	// Other outstanding tokens of the same user die with this reset.
	query = fmt.Sprintf("UPDATE %s SET is_used = TRUE WHERE user_id = $1 AND is_used = FALSE", resetTokensTable)

	if _, err := tx.Exec(ctx, query, userID); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return userID, nil
}

func (p *PostgresStorage) redeemFailure(ctx context.Context, tx pgx.Tx, tokenHash string) error {
	var (
		isUsed    bool
		expiresAt time.Time
	)

	query := fmt.Sprintf("SELECT is_used, expires_at FROM %s WHERE token_hash = $1", resetTokensTable)

	err := tx.QueryRow(ctx, query, tokenHash).Scan(&isUsed, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrResetTokenNotFound
	case err != nil:
		return mapError(err)
	case isUsed:
		return ErrResetTokenUsed
	default:
		return ErrResetTokenExpired
	}
}

func (p *PostgresStorage) Ping(ctx context.Context) error {
	const op = "storage.Ping"

	c, ctx, release, err := p.conn(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}
