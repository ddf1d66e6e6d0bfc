package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/repository"
)

// AccountService performs operator actions on identities: moderation,
// soft deletion and manual email verification. Each action is a single
// repository write, and a suspended or deleted identity loses its sessions
// on the next request because the session resolver re-reads the record.
type AccountService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewAccountService(users repository.UserRepository, logger *slog.Logger) *AccountService {
	return &AccountService{users: users, logger: logger}
}

// Get finds a live identity by id, or by email when ref contains "@".
func (s *AccountService) Get(ctx context.Context, ref string) (*model.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperror.ValidationFailed("ref", "user id or email is required")
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(ref, "@") {
		user, err = s.users.GetUserByEmail(ctx, normalizeEmail(ref))
	} else {
		user, err = s.users.GetUserByID(ctx, ref)
	}
	if err != nil {
		return nil, asAppError(err, "fetching user "+ref)
	}

	return user, nil
}

// SetStatus changes the moderation status of an identity.
func (s *AccountService) SetStatus(ctx context.Context, id string, status model.AccountStatus) error {
	if err := checkID(id); err != nil {
		return err
	}
	if _, err := model.ParseAccountStatus(string(status)); err != nil {
		return apperror.ValidationFailed("status", err.Error())
	}

	if err := s.users.UpdateStatus(ctx, id, status); err != nil {
		return asAppError(err, "updating status of "+id)
	}

	s.logger.InfoContext(ctx, "account status changed",
		slog.String("userID", id),
		slog.String("status", status.String()),
	)
	return nil
}

// SoftDelete marks an identity deleted. Its email and username become
// available for new registrations.
func (s *AccountService) SoftDelete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	if err := s.users.SoftDelete(ctx, id); err != nil {
		return asAppError(err, "deleting "+id)
	}

	s.logger.InfoContext(ctx, "account deleted", slog.String("userID", id))
	return nil
}

// VerifyEmail stamps the identity as email-verified. Repeating it keeps the
// original timestamp.
func (s *AccountService) VerifyEmail(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	if err := s.users.MarkEmailVerified(ctx, id); err != nil {
		return asAppError(err, "verifying email of "+id)
	}

	s.logger.InfoContext(ctx, "email verified", slog.String("userID", id))
	return nil
}

// checkID rejects ids that could never have been issued, so a typo in an
// operator command reads as a validation error instead of "not found".
func checkID(id string) error {
	if _, err := xid.FromString(id); err != nil {
		return apperror.ValidationFailed("id", fmt.Sprintf("%q is not a valid user id", id))
	}
	return nil
}

// IsNotFound reports whether err means the identity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
