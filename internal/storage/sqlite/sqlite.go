package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/storage"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the migrator.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) SaveUser(ctx context.Context, email string, passHash []byte, passSalt []byte) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	roles, err := json.Marshal([]string{string(models.TierFree)})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	stmt, err := s.db.Prepare("INSERT INTO users (email, pass_hash, pass_salt, roles) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, email, passHash, passSalt, string(roles))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.LastInsertId()
}

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.sqlite.User"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, pass_hash, pass_salt, roles FROM users WHERE email = ?", email)
	return scanUser(row, op)
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, pass_hash, pass_salt, roles FROM users WHERE id = ?", userID)
	return scanUser(row, op)
}

func scanUser(row *sql.Row, op string) (*models.User, error) {
	var user models.User
	var roles string
	err := row.Scan(&user.ID, &user.Email, &user.PassHash, &user.PassSalt, &roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(roles), &user.Roles); err != nil {
		return nil, fmt.Errorf("%s: roles: %w", op, err)
	}
	return &user, nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	const op = "storage.sqlite.SaveRefreshToken"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		tokenHash, userID, time.Now(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const op = "storage.sqlite.RefreshToken"

	row := s.db.QueryRowContext(ctx,
		`SELECT token_hash, user_id, created_at, expires_at, revoked_at, replaced_by_hash
		 FROM refresh_tokens WHERE token_hash = ?`, tokenHash)

	var token models.RefreshToken
	err := row.Scan(
		&token.TokenHash, &token.UserID, &token.CreatedAt,
		&token.ExpiresAt, &token.RevokedAt, &token.ReplacedByHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &token, nil
}

// RevokeRefreshToken marks an active token revoked without linking a successor.
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	const op = "storage.sqlite.RevokeRefreshToken"

	res, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL",
		time.Now(), tokenHash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.checkConditionalUpdate(ctx, op, res, tokenHash)
}

// RotateRefreshToken revokes the old token and inserts its successor.
// The revoke is conditional on revoked_at IS NULL; a lost race surfaces
// as ErrTokenRevoked rather than a second valid child token.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash, newHash string, userID int64, newExpiresAt time.Time) error {
	const op = "storage.sqlite.RotateRefreshToken"

	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, replaced_by_hash = ?
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		now, newHash, oldHash,
	)
	if err != nil {
		return fmt.Errorf("%s: revoke old: %w", op, err)
	}
	if err := s.checkConditionalUpdate(ctx, op, res, oldHash); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		newHash, userID, now, newExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: insert new: %w", op, err)
	}
	return nil
}

func (s *Storage) SubscriptionByUserID(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "storage.sqlite.SubscriptionByUserID"

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, status, plan_code, seats, current_period_end
		 FROM subscriptions WHERE user_id = ?`, userID)

	var sub models.Subscription
	err := row.Scan(&sub.UserID, &sub.Status, &sub.PlanCode, &sub.Seats, &sub.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// SeedSubscription upserts a subscription snapshot (for dev/test).
func (s *Storage) SeedSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.sqlite.SeedSubscription"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, plan_code, seats, current_period_end, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   status = excluded.status,
		   plan_code = excluded.plan_code,
		   seats = excluded.seats,
		   current_period_end = excluded.current_period_end,
		   updated_at = excluded.updated_at`,
		sub.UserID, sub.Status, sub.PlanCode, sub.Seats, sub.CurrentPeriodEnd, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// checkConditionalUpdate maps a zero-row conditional update onto the
// not-found / already-revoked storage sentinels.
func (s *Storage) checkConditionalUpdate(ctx context.Context, op string, res sql.Result, tokenHash string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		"SELECT 1 FROM refresh_tokens WHERE token_hash = ?", tokenHash).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, storage.ErrTokenRevoked)
}
