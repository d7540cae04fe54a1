package auth

import (
	"cmp"
	"os"
	"strings"
	"time"
)

// New builds the middleware from the manifest's [auth] section. ADMIN_ROLE_NAME
// and JWT_SECRET override the file; AUTH_DEV_BYPASS=true enables header
// injection for local testing.
func New(cfg Config) *Middleware {
	leeway := 60 * time.Second
	if cfg.LeewaySec > 0 {
		leeway = time.Duration(cfg.LeewaySec) * time.Second
	}

	return &Middleware{
		secret:    []byte(cfg.Secret()),
		issuer:    strings.TrimSpace(cfg.Issuer),
		audience:  strings.TrimSpace(cfg.Audience),
		adminRole: cmp.Or(strings.TrimSpace(os.Getenv("ADMIN_ROLE_NAME")), cfg.AdminRole),
		leeway:    leeway,
		devBypass: os.Getenv("AUTH_DEV_BYPASS") == "true",
	}
}
