package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookiePolicy_Set(t *testing.T) {
	rr := httptest.NewRecorder()
	CookiePolicy{Secure: true, MaxAge: DefaultTokenTTL}.Set(rr, "tok")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]

	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, int(DefaultTokenTTL/time.Second), c.MaxAge)
}

func TestCookiePolicy_SetWithoutMaxAge(t *testing.T) {
	rr := httptest.NewRecorder()
	CookiePolicy{}.Set(rr, "tok")

	c := rr.Result().Cookies()[0]
	assert.Zero(t, c.MaxAge)
	assert.False(t, c.Secure)
	assert.Contains(t, rr.Header().Get("Set-Cookie"), "SameSite=Strict")
}

func TestCookiePolicy_Clear(t *testing.T) {
	rr := httptest.NewRecorder()
	CookiePolicy{Secure: true}.Clear(rr)

	c := rr.Result().Cookies()[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, -1, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.Contains(t, rr.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, tokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: "token", Value: "wrong-name"})
	assert.Empty(t, tokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "abc"})
	assert.Equal(t, "abc", tokenFromRequest(r))
}
