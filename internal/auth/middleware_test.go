package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/metrics"
	"github.com/sakif/matcha/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeLookup is an in-memory UserLookup that counts calls.
type fakeLookup struct {
	users map[string]*model.User
	err   error
	calls int
	delay time.Duration
}

func (f *fakeLookup) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return u, nil
}

type resolverFixture struct {
	resolver *SessionResolver
	tokens   *TokenService
	clock    *fakeClock
	users    *fakeLookup
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	tokens, clock := newTestTokenService(t)
	users := &fakeLookup{users: map[string]*model.User{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())

	return &resolverFixture{
		resolver: NewSessionResolver(tokens, users, logger, m, 0),
		tokens:   tokens,
		clock:    clock,
		users:    users,
	}
}

func (f *resolverFixture) addUser(status model.AccountStatus) *model.User {
	u := &model.User{ID: xid.New().String(), Email: "a@b.com", Username: "u1", Status: status}
	f.users.users[u.ID] = u
	return u
}

func (f *resolverFixture) tokenFor(t *testing.T, id string) string {
	t.Helper()
	version := 0
	if u, ok := f.users.users[id]; ok {
		version = u.SessionVersion
	}
	tok, err := f.tokens.Issue(id, version)
	require.NoError(t, err)
	return tok
}

// capture records what the downstream handler observed.
type capture struct {
	called bool
	user   *model.User
	state  SessionState
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.user, _ = UserFromContext(r.Context())
		c.state = SessionStateFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	}
	return r
}

// =========================================================================
// MANDATORY MODE
// =========================================================================

func TestRequire_AttachesUsableIdentity(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	var c capture

	rr := httptest.NewRecorder()
	f.resolver.Require(c.handler()).ServeHTTP(rr, request(f.tokenFor(t, u.ID)))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, c.called)
	assert.Equal(t, u, c.user)
	assert.Equal(t, Authenticated, c.state)
}

func TestRequire_RejectsWithSameUnauthorizedOutcome(t *testing.T) {
	f := newResolverFixture(t)
	now := time.Now()

	deleted := f.addUser(model.StatusActive)
	deleted.DeletedAt = &now
	suspended := f.addUser(model.StatusSuspended)
	banned := f.addUser(model.StatusBanned)

	cases := map[string]string{
		"absent cookie":         "",
		"syntactically invalid": "not-a-token",
		"non-existent identity": f.tokenFor(t, xid.New().String()),
		"soft-deleted identity": f.tokenFor(t, deleted.ID),
		"suspended identity":    f.tokenFor(t, suspended.ID),
		"banned identity":       f.tokenFor(t, banned.ID),
	}

	var bodies []string
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			var c capture
			rr := httptest.NewRecorder()
			f.resolver.Require(c.handler()).ServeHTTP(rr, request(token))

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.False(t, c.called, "handler must not run")
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			bodies = append(bodies, rr.Body.String())
		})
	}

	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b, "all rejections must be indistinguishable")
	}
}

func TestRequire_ExpiredToken(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	token := f.tokenFor(t, u.ID)

	f.clock.Advance(DefaultTokenTTL + time.Second)

	var c capture
	rr := httptest.NewRecorder()
	f.resolver.Require(c.handler()).ServeHTTP(rr, request(token))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, f.users.calls, "invalid tokens must not reach the repository")
}

func TestRequire_StatusChangeTakesEffectOnNextRequest(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	token := f.tokenFor(t, u.ID)
	h := f.resolver.Require((&capture{}).handler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, request(token))
	require.Equal(t, http.StatusNoContent, rr.Code)

	u.Status = model.StatusSuspended

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, request(token))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, 2, f.users.calls, "identity must be re-read on every request")
}

func TestRequire_RejectsTokenFromOlderSessionVersion(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	old := f.tokenFor(t, u.ID)

	// A password change bumps the version without moving the clock: both
	// tokens share the same issued-at second.
	u.SessionVersion++
	fresh := f.tokenFor(t, u.ID)

	h := f.resolver.Require((&capture{}).handler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, request(old))
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "same-second token from the old version must die")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, request(fresh))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequire_RepositoryFailureIsInternal(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	f.users.err = errors.New("connection reset")

	var c capture
	rr := httptest.NewRecorder()
	f.resolver.Require(c.handler()).ServeHTTP(rr, request(f.tokenFor(t, u.ID)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, c.called)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestRequire_LookupTimeout(t *testing.T) {
	f := newResolverFixture(t)
	u := f.addUser(model.StatusActive)
	f.users.delay = time.Second
	f.resolver.lookupTimeout = 10 * time.Millisecond

	rr := httptest.NewRecorder()
	start := time.Now()
	f.resolver.Require((&capture{}).handler()).ServeHTTP(rr, request(f.tokenFor(t, u.ID)))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRequire_ErrorBodyShape(t *testing.T) {
	f := newResolverFixture(t)

	rr := httptest.NewRecorder()
	f.resolver.Require((&capture{}).handler()).ServeHTTP(rr, request(""))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.NotEmpty(t, body["message"])
}

// =========================================================================
// BEST-EFFORT MODE
// =========================================================================

func TestOptional_NeverRejects(t *testing.T) {
	f := newResolverFixture(t)
	active := f.addUser(model.StatusActive)
	banned := f.addUser(model.StatusBanned)

	cases := []struct {
		name      string
		token     string
		lookupErr error
		wantUser  bool
		wantState SessionState
	}{
		{"no cookie", "", nil, false, Anonymous},
		{"garbage token", "garbage", nil, false, Rejected},
		{"unknown identity", f.tokenFor(t, xid.New().String()), nil, false, Rejected},
		{"unusable identity", f.tokenFor(t, banned.ID), nil, false, Rejected},
		{"repository failure", f.tokenFor(t, active.ID), errors.New("db down"), false, Unverified},
		{"usable identity", f.tokenFor(t, active.ID), nil, true, Authenticated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.users.err = tc.lookupErr
			var c capture
			rr := httptest.NewRecorder()

			f.resolver.Optional(c.handler()).ServeHTTP(rr, request(tc.token))

			assert.Equal(t, http.StatusNoContent, rr.Code)
			require.True(t, c.called, "best-effort mode must always call the handler")
			assert.Equal(t, tc.wantUser, c.user != nil)
			assert.Equal(t, tc.wantState, c.state)
		})
	}
}

func TestOptional_LookupFailureIsNotCountedAsRejection(t *testing.T) {
	f := newResolverFixture(t)
	reg := prometheus.NewRegistry()
	f.resolver.metrics = metrics.New(reg)
	u := f.addUser(model.StatusActive)
	f.users.err = errors.New("db down")

	f.resolver.Optional((&capture{}).handler()).ServeHTTP(httptest.NewRecorder(), request(f.tokenFor(t, u.ID)))

	expected := `
# HELP matcha_auth_session_resolutions_total Session resolutions by middleware mode and outcome
# TYPE matcha_auth_session_resolutions_total counter
matcha_auth_session_resolutions_total{mode="best_effort",outcome="unverified"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "matcha_auth_session_resolutions_total"))
}

// =========================================================================
// CONTEXT HELPERS
// =========================================================================

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()

	_, ok := UserFromContext(ctx)
	assert.False(t, ok)
	id, ok := UserIDFromContext(ctx)
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, Anonymous, SessionStateFromContext(ctx))
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "anonymous", Anonymous.String())
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unverified", Unverified.String())
}
