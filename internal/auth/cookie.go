package auth

import (
	"net/http"
	"time"
)

// CookieName is the cookie that carries the session token.
const CookieName = "auth_token"

// CookiePolicy decides the attributes of the session cookie.
//
// The cookie is always HttpOnly, SameSite=Strict and scoped to "/". Secure
// depends on the deployment (true behind HTTPS). MaxAge matches the token
// lifetime, so the browser keeps the cookie exactly as long as the token
// inside it is valid.
type CookiePolicy struct {
	Secure bool
	MaxAge time.Duration
}

// Set attaches a session cookie holding token to the response.
func (p CookiePolicy) Set(w http.ResponseWriter, token string) {
	c := p.base()
	c.Value = token
	if p.MaxAge > 0 {
		c.MaxAge = int(p.MaxAge.Seconds())
		c.Expires = time.Now().Add(p.MaxAge)
	}
	http.SetCookie(w, c)
}

// Clear instructs the browser to discard the session cookie.
func (p CookiePolicy) Clear(w http.ResponseWriter) {
	c := p.base()
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (p CookiePolicy) base() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// tokenFromRequest returns the session token, or "" when the cookie is absent.
func tokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
