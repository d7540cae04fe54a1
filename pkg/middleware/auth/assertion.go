package auth

import (
	"cmp"
	"errors"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	jwt.RegisteredClaims
	UID   string   `json:"uid"`
	Roles []string `json:"roles"`
	Role  string   `json:"role"`
}

func (m *Middleware) validateToken(raw string) (User, error) {
	if len(m.secret) == 0 {
		return User{}, errors.New("token validation not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parser := jwt.NewParser(opts...)

	var c claims
	tok, err := parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil || !tok.Valid {
		return User{}, errors.New("invalid token")
	}

	if m.audience != "" && !slices.Contains(c.Audience, m.audience) {
		return User{}, errors.New("bad audience")
	}

	username := cmp.Or(c.UID, c.Subject)
	if username == "" {
		return User{}, errors.New("missing uid")
	}

	return User{
		Username:             username,
		AuthenticationSource: AuthenticationSource{Provider: "jwt"},
		Role:                 Role{Name: c.role()},
	}, nil
}

// role prefers the single role claim over the first entry of roles.
func (c claims) role() string {
	if c.Role != "" || len(c.Roles) == 0 {
		return c.Role
	}
	return c.Roles[0]
}
