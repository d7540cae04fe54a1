package auth

import (
	"context"
	"slices"
)

func userFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userCtxKey).(User)
	return u, ok && u.Username != ""
}

// GetUser returns the caller attached by Middleware, or the zero User.
func (m *Middleware) GetUser(ctx context.Context) User {
	u, _ := userFrom(ctx)
	return u
}

func (m *Middleware) IsAuthenticated(ctx context.Context) bool {
	_, ok := userFrom(ctx)
	return ok
}

func (m *Middleware) IsAdmin(ctx context.Context) bool {
	u, ok := userFrom(ctx)
	return ok && m.adminRole != "" && u.Role.Name == m.adminRole
}

// HasRole reports whether the caller holds one of roles. Admins hold every
// role.
func (m *Middleware) HasRole(ctx context.Context, roles ...string) bool {
	u, ok := userFrom(ctx)
	if !ok {
		return false
	}
	return m.IsAdmin(ctx) || slices.Contains(roles, u.Role.Name)
}

// IsUser reports whether the caller is one of usernames. Admins always pass.
func (m *Middleware) IsUser(ctx context.Context, usernames ...string) bool {
	u, ok := userFrom(ctx)
	if !ok {
		return false
	}
	return m.IsAdmin(ctx) || slices.Contains(usernames, u.Username)
}
