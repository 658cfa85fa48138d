package auth

import (
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/ghuser/toolcrib/pkg/httpx"
	"github.com/ghuser/toolcrib/pkg/logger"
)

// SessionName is the cookie name of the toolcrib session.
const SessionName = "toolcrib_session"

// Session value keys.
const (
	sessionUserIDKey   = "user_id"
	sessionUserNameKey = "user_name"
	sessionRoleKey     = "role"
)

// LoadUser attaches the session user to the request context when a valid
// session exists and passes every request through.
func LoadUser(store sessions.Store, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u, ok := sessionUser(store, r, log); ok {
				r = r.WithContext(WithUser(r.Context(), u))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth is a chi middleware that enforces authentication via session cookies.
// It reads the session cookie, extracts the user, and injects it into the request context.
// Returns 401 Unauthorized if the session is missing, invalid, or lacks a user_id.
//
// After this middleware, handlers can safely call auth.UserFromCtx(r.Context()).
func RequireAuth(store sessions.Store, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := sessionUser(store, r, log)
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireAdmin is RequireAuth that additionally demands the admin role.
// Returns 403 Forbidden for authenticated non-admins.
func RequireAdmin(store sessions.Store, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, _ := UserFromCtx(r.Context())
			if !u.IsAdmin() {
				log.WarnContext(r.Context(), "non-admin denied", "user_id", u.ID)
				httpx.JSONError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
		return RequireAuth(store, log)(admin)
	}
}

func sessionUser(store sessions.Store, r *http.Request, log logger.Logger) (User, bool) {
	session, err := store.Get(r, SessionName)
	if err != nil {
		log.WarnContext(r.Context(), "invalid session cookie", "error", err)
		return User{}, false
	}
	id, _ := session.Values[sessionUserIDKey].(string)
	if id == "" {
		return User{}, false
	}
	name, _ := session.Values[sessionUserNameKey].(string)
	role, _ := session.Values[sessionRoleKey].(string)
	return User{ID: id, Name: name, Role: role}, true
}
