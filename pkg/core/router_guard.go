package core

import (
	"net/http"

	manifest "github.com/joeydtaylor/steeze-functions/pkg/manifest"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
)

// withGuard enforces a route guard. Open guards pass every caller, even when
// no auth middleware is wired.
func withGuard(next http.HandlerFunc, a *auth.Middleware, g manifest.Guard) http.HandlerFunc {
	if g.Open() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if a == nil || !a.IsAuthenticated(ctx) {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if len(g.Users) > 0 && !a.IsUser(ctx, g.Users...) {
			writeErrorMessage(w, http.StatusForbidden, "forbidden")
			return
		}
		if len(g.Roles) > 0 && !a.HasRole(ctx, g.Roles...) {
			writeErrorMessage(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}
