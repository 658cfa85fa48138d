package auth

import (
	"context"
	"errors"
)

// contextKey is an unexported type to prevent key collisions in context.
type contextKey string

const userKey contextKey = "user"

// RoleAdmin may manage the equipment catalog.
const RoleAdmin = "admin"

// ErrUserNotFound is returned when no user exists in the request context.
// Handlers should return 401 when this error occurs.
var ErrUserNotFound = errors.New("user not found in context")

// User is the authenticated caller.
type User struct {
	ID   string
	Name string
	Role string
}

// IsAdmin reports whether u may manage equipment.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserFromCtx extracts the authenticated user from the request context.
// Returns ErrUserNotFound if no user is set (unauthenticated request).
func UserFromCtx(ctx context.Context) (User, error) {
	u, ok := ctx.Value(userKey).(User)
	if !ok || u.ID == "" {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// WithUser returns a new context with the given user attached.
// Used by authentication middleware after validating the session.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
