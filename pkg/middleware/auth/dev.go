package auth

import (
	"net/http"
	"strings"
)

// devUserFromHeaders reads X-Dev-User and X-Dev-Role when AUTH_DEV_BYPASS=true.
// Never enable in production.
func devUserFromHeaders(r *http.Request) User {
	user := strings.TrimSpace(r.Header.Get("X-Dev-User"))
	if user == "" {
		return User{}
	}
	return User{
		Username:             user,
		AuthenticationSource: AuthenticationSource{Provider: "dev"},
		Role:                 Role{Name: strings.TrimSpace(r.Header.Get("X-Dev-Role"))},
	}
}
