// Package service holds the business rules of the auth core.
//
//	Handler (HTTP) → AuthService / AccountService → UserRepository (DB)
//	                ↘ TokenService, PasswordService
//
// Services know nothing about HTTP. Every failure they return is an
// *apperror.AppError, so the handler layer can map it to a status code
// without inspecting messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/auth"
	"github.com/sakif/matcha/internal/metrics"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/repository"
)

// Input limits.
const (
	MinUsernameLength = 1
	MaxUsernameLength = 32
	MaxEmailLength    = 254
	MaxPasswordLength = 1024 // bytes, not characters; bounds the work done by a single hash
	MaxNameLength     = 100
)

// passwordSize limits a password by its UTF-8 byte length. ozzo's Length
// counts runes, which would let 1024 four-byte characters through as 4 KiB.
var passwordSize = validation.By(func(value interface{}) error {
	if s, _ := value.(string); len(s) > MaxPasswordLength {
		return fmt.Errorf("must be at most %d bytes", MaxPasswordLength)
	}
	return nil
})

// Client-facing messages. Login failures share one message so a caller
// cannot tell an unknown email from a wrong password.
const (
	msgRegisterRequired  = "Email, username, and password are required"
	msgLoginRequired     = "Email and password are required"
	msgPasswordsRequired = "Current and new password are required"
	msgBadCredentials    = "Invalid username or password"
	msgWrongPassword     = "Current password is incorrect"
	msgNotActive         = "Account is not active"
	msgEmailTaken        = "User with this email already exists"
	msgUsernameTaken     = "Username already taken"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RegisterInput is the registration form. FirstName and LastName are
// accepted and length-checked but not stored.
type RegisterInput struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Validate runs the field rules. Keys in the returned validation.Errors are
// the json tag names.
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, MaxEmailLength), is.Email),
		validation.Field(&in.Username,
			validation.Required,
			validation.Length(MinUsernameLength, MaxUsernameLength),
			validation.Match(usernamePattern).Error("may only contain letters, digits, '.', '_' and '-'"),
		),
		validation.Field(&in.Password, validation.Required, passwordSize),
		validation.Field(&in.FirstName, validation.Length(0, MaxNameLength)),
		validation.Field(&in.LastName, validation.Length(0, MaxNameLength)),
	)
}

var registerFields = []string{"email", "username", "password", "first_name", "last_name"}

// AuthResult bundles the identity and its freshly issued token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// AuthService orchestrates registration, login and password change.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewAuthService wires the orchestrator. m may be nil.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		metrics:   m,
	}
}

// Register creates a new identity and issues its first token.
//
// Order: required fields, field rules, email conflict, username conflict,
// hash, create, issue. Create can still report a conflict when two
// registrations race past the lookups; the unique index decides the winner.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	if in.Email == "" || in.Username == "" || in.Password == "" {
		s.metrics.Register(metrics.OutcomeInvalid)
		return nil, apperror.ValidationFailed("", msgRegisterRequired)
	}
	if err := in.Validate(); err != nil {
		s.metrics.Register(metrics.OutcomeInvalid)
		return nil, validationError(err, registerFields)
	}

	if err := s.ensureUnbound(ctx, in.Email, in.Username); err != nil {
		s.metrics.Register(outcomeOf(err))
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return nil, apperror.Internal(fmt.Errorf("service/auth: hashing password: %w", err))
	}

	user := &model.User{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		Status:       model.StatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		err = asAppError(err, "creating user")
		s.metrics.Register(outcomeOf(err))
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID, user.SessionVersion)
	if err != nil {
		s.metrics.Register(metrics.OutcomeError)
		return nil, apperror.Internal(fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err))
	}

	s.metrics.Register(metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return &AuthResult{User: user, Token: token}, nil
}

// ensureUnbound rejects an email or username already held by a live
// identity. Email is checked first.
func (s *AuthService) ensureUnbound(ctx context.Context, email, username string) error {
	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return apperror.Conflict(msgEmailTaken)
	case !errors.Is(err, apperror.ErrNotFound):
		return apperror.Internal(fmt.Errorf("service/auth: checking email: %w", err))
	}

	_, err = s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return apperror.Conflict(msgUsernameTaken)
	case !errors.Is(err, apperror.ErrNotFound):
		return apperror.Internal(fmt.Errorf("service/auth: checking username: %w", err))
	}

	return nil
}

// Login authenticates by email and password and issues a token.
//
// An unknown email and a wrong password produce the same error, and the
// unknown-email path still runs one password verification so both take
// about the same time. Credentials are checked before account status:
// only a caller who knows the password learns the account is not active.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.metrics.Login(metrics.OutcomeInvalid)
		return nil, apperror.ValidationFailed("", msgLoginRequired)
	}
	if err := validation.Validate(password, passwordSize); err != nil {
		s.metrics.Login(metrics.OutcomeInvalid)
		return nil, apperror.ValidationFailed("password", "password "+err.Error())
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		s.passwords.VerifyDummy(password)
		s.metrics.Login(metrics.OutcomeBadCreds)
		return nil, apperror.Unauthorized(msgBadCredentials)
	}
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, apperror.Internal(fmt.Errorf("service/auth: looking up login: %w", err))
	}

	if !s.passwords.Verify(password, user.PasswordHash) {
		s.metrics.Login(metrics.OutcomeBadCreds)
		s.logger.DebugContext(ctx, "login rejected", slog.String("userID", user.ID))
		return nil, apperror.Unauthorized(msgBadCredentials)
	}

	if !user.IsUsable() {
		s.metrics.Login(metrics.OutcomeForbidden)
		s.logger.InfoContext(ctx, "login refused for unusable account",
			slog.String("userID", user.ID),
			slog.String("status", user.Status.String()),
		)
		return nil, apperror.Forbidden(msgNotActive)
	}

	token, err := s.tokens.Issue(user.ID, user.SessionVersion)
	if err != nil {
		s.metrics.Login(metrics.OutcomeError)
		return nil, apperror.Internal(fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err))
	}

	s.metrics.Login(metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "user logged in", slog.String("userID", user.ID))

	return &AuthResult{User: user, Token: token}, nil
}

// ChangePassword replaces the password of an authenticated identity.
//
// UpdatePassword bumps the stored session version, which invalidates every
// token issued before the change, the caller's current cookie included. The
// returned token carries the new version, so the caller stays signed in
// while every other device is signed out.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, newPassword string) (*AuthResult, error) {
	if current == "" || newPassword == "" {
		return nil, apperror.ValidationFailed("", msgPasswordsRequired)
	}
	if err := validation.Validate(newPassword, passwordSize); err != nil {
		return nil, apperror.ValidationFailed("new_password", "new_password "+err.Error())
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized("Authentication required")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("service/auth: fetching user %s: %w", userID, err))
	}

	if !s.passwords.Verify(current, user.PasswordHash) {
		return nil, apperror.Unauthorized(msgWrongPassword)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("service/auth: hashing password: %w", err))
	}

	version, err := s.users.UpdatePassword(ctx, user.ID, hash)
	if err != nil {
		return nil, asAppError(err, "updating password")
	}
	user.PasswordHash = hash
	user.SessionVersion = version

	token, err := s.tokens.Issue(user.ID, version)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("service/auth: issuing token for %s: %w", user.ID, err))
	}

	s.logger.InfoContext(ctx, "password changed, older sessions revoked",
		slog.String("userID", user.ID),
		slog.Int("sessionVersion", version),
	)

	return &AuthResult{User: user, Token: token}, nil
}

// normalizeEmail applies the email case policy: trimmed and lower-cased.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validationError turns ozzo's per-field errors into a single
// ValidationFailed for the first failing field in form order.
func validationError(err error, order []string) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return apperror.Internal(fmt.Errorf("service: validating input: %w", err))
	}
	for _, field := range order {
		if fe, ok := fieldErrs[field]; ok {
			return apperror.ValidationFailed(field, field+" "+fe.Error())
		}
	}
	return apperror.ValidationFailed("", fieldErrs.Error())
}

// asAppError passes typed errors through and wraps anything else as an
// internal fault.
func asAppError(err error, op string) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Internal(fmt.Errorf("service: %s: %w", op, err))
}

// outcomeOf maps an error to its metrics outcome label.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, apperror.ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, apperror.ErrUnauthorized):
		return metrics.OutcomeBadCreds
	case errors.Is(err, apperror.ErrForbidden):
		return metrics.OutcomeForbidden
	default:
		return metrics.OutcomeError
	}
}
