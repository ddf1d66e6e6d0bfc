package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/matcha/internal/apperror"
	"github.com/sakif/matcha/internal/auth"
	"github.com/sakif/matcha/internal/model"
	"github.com/sakif/matcha/internal/service"
)

// maxFormBytes caps the request body read by ParseForm.
const maxFormBytes = 64 << 10

// authResponse is the success body of every auth endpoint.
type authResponse struct {
	Message string            `json:"message"`
	User    *model.PublicUser `json:"user,omitempty"`
}

type sessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	User          *model.PublicUser `json:"user,omitempty"`
}

// AuthHandler serves registration, login, logout and the session endpoints.
//
// Request bodies are form-encoded. The token travels only in the auth
// cookie; it is never included in a response body.
type AuthHandler struct {
	auth    *service.AuthService
	cookies auth.CookiePolicy
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, cookies auth.CookiePolicy, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, cookies: cookies, logger: logger}
}

// HandleRegister creates an identity and starts its session.
//
// HTTP: POST /api/auth/register
// Form: email, username, password, first_name, last_name
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:     r.PostFormValue("email"),
		Username:  r.PostFormValue("username"),
		Password:  r.PostFormValue("password"),
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cookies.Set(w, res.Token)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User registered successfully. Please check your email for verification.",
		User:    public(res.User),
	})
}

// HandleLogin authenticates by email and password.
//
// HTTP: POST /api/auth/login
// Form: email, password
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cookies.Set(w, res.Token)
	writeJSON(w, http.StatusOK, authResponse{Message: "Login successful", User: public(res.User)})
}

// HandleLogout expires the auth cookie. It always succeeds, with or without
// a session. The token itself stays valid until it expires; only a password
// change revokes it server-side.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, authResponse{Message: "Logout successful"})
}

// HandleSession reports whether the request carries a usable session.
//
// HTTP: GET /api/auth/session (best-effort guard)
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		if auth.SessionStateFromContext(r.Context()) == auth.Rejected {
			// A cookie that no longer resolves is dead weight; drop it.
			h.cookies.Clear(w)
		}
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: public(user)})
}

// HandleMe returns the caller's identity.
//
// HTTP: GET /api/me (mandatory guard)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("Authentication required"))
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Message: "Authenticated", User: public(user)})
}

// HandleChangePassword replaces the caller's password. Every other session
// of the identity stops resolving; this one gets a fresh cookie.
//
// HTTP: POST /api/me/password (mandatory guard)
// Form: current_password, new_password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("Authentication required"))
		return
	}
	if err := parseForm(w, r); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.ChangePassword(r.Context(), userID,
		r.PostFormValue("current_password"),
		r.PostFormValue("new_password"),
	)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.cookies.Set(w, res.Token)
	writeJSON(w, http.StatusOK, authResponse{Message: "Password changed successfully", User: public(res.User)})
}

// parseForm reads a form-encoded body of at most maxFormBytes.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return apperror.ValidationFailed("", "Invalid form body")
	}
	return nil
}

func public(u *model.User) *model.PublicUser {
	p := u.Public()
	return &p
}
