package auth

import (
	"os"
	"strings"
	"time"
)

// Config is the [auth] manifest section. An empty JWTSecret disables token
// validation; requests then stay anonymous.
type Config struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	Audience  string `toml:"audience"`
	AdminRole string `toml:"admin_role"`
	LeewaySec int    `toml:"leeway_seconds"`
}

// Secret is the effective signing secret: JWT_SECRET when set, else the
// manifest value.
func (c Config) Secret() string {
	if s := strings.TrimSpace(os.Getenv("JWT_SECRET")); s != "" {
		return s
	}
	return strings.TrimSpace(c.JWTSecret)
}

type Middleware struct {
	secret    []byte
	issuer    string
	audience  string
	adminRole string
	leeway    time.Duration
	devBypass bool
}

// Enabled reports whether bearer tokens are checked at all.
func (m *Middleware) Enabled() bool { return m != nil && (len(m.secret) > 0 || m.devBypass) }
