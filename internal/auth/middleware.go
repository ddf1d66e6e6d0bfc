package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/metrics"
	"github.com/sakif/matcha/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey string

const (
	userKey  contextKey = "user"
	stateKey contextKey = "sessionState"
)

// SessionState describes what the resolver concluded about a request.
type SessionState int

const (
	// Anonymous: no session cookie was sent.
	Anonymous SessionState = iota
	// Authenticated: the token verified and the identity is usable.
	Authenticated
	// Rejected: a cookie was sent but did not resolve to a usable identity.
	// Only observable in best-effort mode; mandatory mode stops the request.
	Rejected
	// Unverified: the token verified but the identity could not be re-read.
	// The cookie may still be good.
	Unverified
)

func (s SessionState) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	case Unverified:
		return "unverified"
	default:
		return "anonymous"
	}
}

// Rejection reasons. They are logged and counted, never sent to the client.
const (
	reasonNoToken          = "no_token"
	reasonInvalidToken     = "invalid_token"
	reasonUnknownIdentity  = "unknown_identity"
	reasonUnusableIdentity = "unusable_identity"
	reasonRevoked          = "revoked"
	reasonLookupError      = "lookup_error"
)

// UserLookup is the slice of the user repository the resolver needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// SessionResolver turns the session cookie into an authenticated identity.
//
// Every resolution re-reads the identity from the repository: the token only
// proves who the caller is, and the stored record decides whether they are
// still allowed in. Suspension, ban, deletion and password changes therefore
// take effect on the next request.
type SessionResolver struct {
	tokens        *TokenService
	users         UserLookup
	logger        *slog.Logger
	metrics       *metrics.Metrics
	lookupTimeout time.Duration
}

// NewSessionResolver creates a SessionResolver. lookupTimeout bounds the
// repository round trip; zero leaves it to the request context.
func NewSessionResolver(
	tokens *TokenService,
	users UserLookup,
	logger *slog.Logger,
	m *metrics.Metrics,
	lookupTimeout time.Duration,
) *SessionResolver {
	return &SessionResolver{
		tokens:        tokens,
		users:         users,
		logger:        logger,
		metrics:       m,
		lookupTimeout: lookupTimeout,
	}
}

// resolution is the outcome of resolve. user is set only when reason is "".
//
// RESOLUTION STEPS (first failure wins):
//  1. cookie present               else no_token
//  2. JWT verifies                 else invalid_token
//  3. user row found               else unknown_identity (or lookup_error)
//  4. user usable                  else unusable_identity
//  5. token version == row version else revoked
type resolution struct {
	user   *model.User
	reason string
	err    error
}

func (s *SessionResolver) resolve(r *http.Request) resolution {
	raw := tokenFromRequest(r)
	if raw == "" {
		return resolution{reason: reasonNoToken}
	}

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return resolution{reason: reasonInvalidToken, err: err}
	}

	ctx := r.Context()
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}

	start := time.Now()
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		s.metrics.IdentityLookup(metrics.ResultNotFound, time.Since(start))
		return resolution{reason: reasonUnknownIdentity}
	case err != nil:
		s.metrics.IdentityLookup(metrics.ResultLookupError, time.Since(start))
		return resolution{reason: reasonLookupError, err: err}
	}
	s.metrics.IdentityLookup(metrics.ResultFound, time.Since(start))

	if !user.IsUsable() {
		return resolution{reason: reasonUnusableIdentity}
	}
	// WHY COMPARE VERSIONS, NOT TIMES?
	// The token's signature and expiry are still fine after a password
	// change; only the stored row knows the change happened. The row's
	// SessionVersion moves on every change, so a token carrying any other
	// value belongs to an older password and is refused, even one minted in
	// the same second as the change.
	if claims.SessionVersion != user.SessionVersion {
		return resolution{reason: reasonRevoked}
	}

	return resolution{user: user}
}

// Require is the mandatory-mode middleware. Requests without a usable
// session are answered with 401 before the handler runs; a repository
// failure during the identity re-read is answered with 500.
func (s *SessionResolver) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.resolve(r)
		if res.user == nil {
			s.metrics.Session(metrics.ModeMandatory, metrics.OutcomeRejected, res.reason)
			s.logRejection(r, metrics.ModeMandatory, res)

			if res.reason == reasonLookupError {
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		s.metrics.Session(metrics.ModeMandatory, metrics.OutcomeSuccess, "")
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), res.user, Authenticated)))
	})
}

// Optional is the best-effort middleware. It never blocks: handlers see
// either an authenticated user or none, and can ask SessionStateFromContext
// whether an unusable cookie was presented.
func (s *SessionResolver) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.resolve(r)
		switch {
		case res.user != nil:
			s.metrics.Session(metrics.ModeBestEffort, metrics.OutcomeSuccess, "")
			r = r.WithContext(withSession(r.Context(), res.user, Authenticated))
		case res.reason == reasonNoToken:
			s.metrics.Session(metrics.ModeBestEffort, metrics.OutcomeAnonymous, "")
			r = r.WithContext(withSession(r.Context(), nil, Anonymous))
		case res.reason == reasonLookupError:
			s.metrics.Session(metrics.ModeBestEffort, metrics.OutcomeUnverified, res.reason)
			s.logRejection(r, metrics.ModeBestEffort, res)
			r = r.WithContext(withSession(r.Context(), nil, Unverified))
		default:
			s.metrics.Session(metrics.ModeBestEffort, metrics.OutcomeRejected, res.reason)
			s.logRejection(r, metrics.ModeBestEffort, res)
			r = r.WithContext(withSession(r.Context(), nil, Rejected))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SessionResolver) logRejection(r *http.Request, mode string, res resolution) {
	attrs := []any{
		slog.String("mode", mode),
		slog.String("reason", res.reason),
		slog.String("path", r.URL.Path),
	}
	if res.err != nil {
		attrs = append(attrs, slog.String("error", res.err.Error()))
	}

	if res.reason == reasonLookupError {
		s.logger.Error("session resolution failed", attrs...)
		return
	}
	s.logger.Debug("session not resolved", attrs...)
}

func withSession(ctx context.Context, user *model.User, state SessionState) context.Context {
	ctx = context.WithValue(ctx, stateKey, state)
	if user != nil {
		ctx = context.WithValue(ctx, userKey, user)
	}
	return ctx
}

// UserFromContext returns the identity attached by the resolver, or
// (nil, false) for an anonymous request.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) if the request is anonymous.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return u.ID, true
}

// SessionStateFromContext reports the resolver's verdict. Requests that never
// passed through a resolver are Anonymous.
func SessionStateFromContext(ctx context.Context) SessionState {
	s, _ := ctx.Value(stateKey).(SessionState)
	return s
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
