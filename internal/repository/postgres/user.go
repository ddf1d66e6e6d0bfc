package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/xid"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

const userColumns = `id, email, username, password_hash, email_verified_at, account_status,
	session_version, created_at, updated_at, deleted_at`

// Unique index names from migrations/00001_create_users.sql.
const (
	emailIndex    = "ux_users_email"
	usernameIndex = "ux_users_username"
)

// UserStore implements repository.UserRepository on PostgreSQL.
type UserStore struct {
	db DBTX
}

// NewUserStore creates a UserStore over db.
func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

// Ping reports whether the database is reachable.
func (s *UserStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Create inserts a new identity. ID, Status (when empty) and the timestamps
// are filled in on the passed struct.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Status == "" {
		user.Status = model.StatusActive
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, username, password_hash, email_verified_at, account_status,
		                    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		user.EmailVerifiedAt,
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case emailIndex:
				return apperror.Conflict("User with this email already exists")
			case usernameIndex:
				return apperror.Conflict("Username already taken")
			default:
				return apperror.Conflict("User already exists")
			}
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}

	return nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanUser(row, "id", id)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL`, email)
	return scanUser(row, "email", email)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 AND deleted_at IS NULL`, username)
	return scanUser(row, "username", username)
}

// UpdatePassword replaces the hash and bumps session_version in one
// statement. RETURNING hands back the version this write produced, so the
// caller can issue a token under it without a second read.
func (s *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) (int, error) {
	var version int
	err := s.db.QueryRow(ctx,
		`UPDATE users SET password_hash = $2, session_version = session_version + 1, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING session_version`,
		id, passwordHash,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperror.NotFound("user", id)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: updating password %s: %w", id, err)
	}
	return version, nil
}

func (s *UserStore) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	return s.execByID(ctx, "updating status", id,
		`UPDATE users SET account_status = $2, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, string(status),
	)
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, id string) error {
	return s.execByID(ctx, "verifying email", id,
		`UPDATE users SET email_verified_at = COALESCE(email_verified_at, NOW()), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
}

func (s *UserStore) SoftDelete(ctx context.Context, id string) error {
	return s.execByID(ctx, "deleting user", id,
		`UPDATE users SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
}

func (s *UserStore) execByID(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func scanUser(row pgx.Row, key, value string) (*model.User, error) {
	var (
		u      model.User
		status string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.PasswordHash,
		&u.EmailVerifiedAt,
		&status,
		&u.SessionVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("postgres: getting user by %s: %w", key, err)
	}

	u.Status = model.AccountStatus(status)
	return &u, nil
}
