package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// User is an operator account. Passwords are stored as bcrypt hashes only.
type User struct {
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	OrganizationID      string     `json:"organizationId"`
	Active              bool       `json:"active"`
	TOTPSecret          string     `json:"-"`
	MFAEnabled          bool       `json:"mfaEnabled"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// IsLocked reports whether the account is currently locked out.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// SQLiteUserStorage implements user account persistence on SQLite.
type SQLiteUserStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteUserStorage creates a user storage backed by the given SQLite instance.
func NewSQLiteUserStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteUserStorage {
	if sqlite == nil {
		panic("sqlite is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &SQLiteUserStorage{sqlite: sqlite, logger: logger}
}

// CreateUser inserts a new user account.
func (sus *SQLiteUserStorage) CreateUser(ctx context.Context, user *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("password hash cannot be empty")
	}
	if user.OrganizationID == "" {
		return fmt.Errorf("organization ID cannot be empty")
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	query := `
		INSERT INTO users (username, password_hash, organization_id, active, totp_secret,
		                   mfa_enabled, failed_login_attempts, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sus.sqlite.WriteDB.ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.OrganizationID,
		boolToInt(user.Active),
		nullIfEmpty(user.TOTPSecret),
		boolToInt(user.MFAEnabled),
		user.FailedLoginAttempts,
		nullIfNilTime(user.LockedUntil),
		user.CreatedAt.Format(time.RFC3339),
		user.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return fmt.Errorf("%w: user %s", ErrConstraintViolation, user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	sus.logger.Infof("Created user %s (org %s)", user.Username, user.OrganizationID)
	return nil
}

// GetUserByUsername fetches one user account.
func (sus *SQLiteUserStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT username, password_hash, organization_id, active, totp_secret,
		       mfa_enabled, failed_login_attempts, locked_until, created_at, updated_at
		FROM users WHERE username = ?
	`

	var user User
	var totpSecret, lockedUntil sql.NullString
	var active, mfaEnabled int
	var createdAt, updatedAt string

	err := sus.sqlite.ReadDB.QueryRowContext(ctx, query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.OrganizationID,
		&active,
		&totpSecret,
		&mfaEnabled,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Active = active != 0
	user.MFAEnabled = mfaEnabled != 0
	user.TOTPSecret = totpSecret.String
	if lockedUntil.Valid {
		if t, err := time.Parse(time.RFC3339, lockedUntil.String); err == nil {
			user.LockedUntil = &t
		}
	}
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &user, nil
}

// RecordFailedLogin increments the failed login counter and locks the account
// for lockout once maxAttempts is reached. Returns true when the account is
// now locked.
func (sus *SQLiteUserStorage) RecordFailedLogin(ctx context.Context, username string, maxAttempts int, lockout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var locked bool
	err := sus.sqlite.WithTransaction(func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx,
			`SELECT failed_login_attempts FROM users WHERE username = ?`, username).Scan(&attempts)
		if err == sql.ErrNoRows {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read login attempts: %w", err)
		}

		attempts++
		var lockedUntil interface{}
		if attempts >= maxAttempts {
			locked = true
			lockedUntil = time.Now().UTC().Add(lockout).Format(time.RFC3339)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET failed_login_attempts = ?, locked_until = ?, updated_at = ? WHERE username = ?`,
			attempts,
			lockedUntil,
			time.Now().UTC().Format(time.RFC3339),
			username,
		)
		if err != nil {
			return fmt.Errorf("failed to record failed login: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if locked {
		sus.logger.Warnf("Locked user %s after %d failed login attempts", username, maxAttempts)
	}
	return locked, nil
}

// ResetFailedLogins clears the failed login counter and any lockout, typically
// after a successful authentication.
func (sus *SQLiteUserStorage) ResetFailedLogins(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := sus.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = ? WHERE username = ?`,
		time.Now().UTC().Format(time.RFC3339),
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login attempts: %w", err)
	}
	return nil
}

// CountUsers reports how many user accounts exist. Used at startup to decide
// whether to seed the initial admin account.
func (sus *SQLiteUserStorage) CountUsers(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int
	err := sus.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
