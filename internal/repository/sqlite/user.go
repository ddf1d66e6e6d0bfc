package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, username, password_hash, email_verified_at, account_status,
	session_version, created_at, updated_at, deleted_at`

// Create inserts a new identity. ID, Status (when empty) and the timestamps
// are filled in on the passed struct.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = model.StatusActive
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, email_verified_at, account_status,
		                    created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		nullTime(user.EmailVerifiedAt),
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a live user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id)
	return scanUser(row, "id", id)
}

// GetUserByEmail looks up a live user by exact email. Callers normalise
// the email before calling.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	return scanUser(row, "email", email)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`, username)
	return scanUser(row, "username", username)
}

// UpdatePassword replaces the password hash and bumps the session version
// in the same statement, returning the new version.
//
// WHY RETURNING?
// The caller issues a fresh token under the new version. Reading the version
// back in a second query could race with another password change; RETURNING
// hands back exactly the value this UPDATE wrote.
func (db *DB) UpdatePassword(ctx context.Context, id, passwordHash string) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx,
		`UPDATE users SET password_hash = ?, session_version = session_version + 1, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL
		 RETURNING session_version`,
		passwordHash, time.Now().UTC(), id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.NotFound("user", id)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: updating password %s: %w", id, err)
	}
	return version, nil
}

func (db *DB) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	return db.execByID(ctx, "updating status", id,
		`UPDATE users SET account_status = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		string(status), time.Now().UTC(), id,
	)
}

// MarkEmailVerified stamps the verification time. Verifying twice keeps the
// first timestamp.
func (db *DB) MarkEmailVerified(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return db.execByID(ctx, "verifying email", id,
		`UPDATE users SET email_verified_at = COALESCE(email_verified_at, ?), updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
}

// SoftDelete marks the user deleted. The row stays, but every lookup skips it
// and its email and username become free again.
func (db *DB) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return db.execByID(ctx, "deleting user", id,
		`UPDATE users SET deleted_at = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
}

// execByID runs a single-row write and maps "no row matched" to NotFound.
func (db *DB) execByID(ctx context.Context, op, id, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s %s: %w", op, id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func scanUser(row *sql.Row, key, value string) (*model.User, error) {
	var (
		u                          model.User
		status                     string
		emailVerifiedAt, deletedAt sql.NullTime
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&emailVerifiedAt,
		&status,
		&u.SessionVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", key, err)
	}

	u.Status = model.AccountStatus(status)
	u.EmailVerifiedAt = timePtr(emailVerifiedAt)
	u.DeletedAt = timePtr(deletedAt)
	return &u, nil
}

// uniqueViolation translates a UNIQUE constraint failure into a Conflict
// naming the field. Returns nil for any other error.
func uniqueViolation(err error) *apperror.AppError {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return nil
	}
	switch msg := sqliteErr.Error(); {
	case strings.Contains(msg, "users.email"):
		return apperror.Conflict("User with this email already exists")
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("Username already taken")
	default:
		return apperror.Conflict("User already exists")
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
