// Package repository declares the storage contracts used by the services.
// Implementations live in sub-packages (sqlite, postgres).
package repository

import (
	"context"

	"github.com/sakif/matcha/internal/model"
)

// UserRepository persists identity records.
//
// Every read and write ignores soft-deleted rows. Each write is a single
// statement keyed by id; when no live row matches, it returns an error
// wrapping apperror.ErrNotFound. Create returns apperror.ErrConflict when the
// email or username is already bound to a live identity.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// UpdatePassword replaces the hash and increments SessionVersion in one
	// write, returning the new version. Tokens issued under an older version
	// stop resolving.
	UpdatePassword(ctx context.Context, id, passwordHash string) (int, error)
	UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error
	MarkEmailVerified(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
