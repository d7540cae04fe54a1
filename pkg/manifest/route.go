package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// Route names. The paths behind them are fixed; the manifest only tunes
// guards and timeouts.
const (
	RouteList        = "list"
	RouteCreate      = "create"
	RouteUpsert      = "upsert"
	RouteGet         = "get"
	RouteDelete      = "delete"
	RouteEnvSet      = "env.set"
	RouteEnvDelete   = "env.delete"
	RouteRun         = "run"
	RoutePipeline    = "pipeline"
	RoutePublicRun   = "public.run"
	RouteHealthcheck = "healthcheck"
)

var routeNames = map[string]bool{
	RouteList:        true,
	RouteCreate:      true,
	RouteUpsert:      true,
	RouteGet:         true,
	RouteDelete:      true,
	RouteEnvSet:      true,
	RouteEnvDelete:   true,
	RouteRun:         true,
	RoutePipeline:    true,
	RoutePublicRun:   true,
	RouteHealthcheck: true,
}

// writeRoutes require auth by default once auth is configured.
var writeRoutes = []string{RouteCreate, RouteUpsert, RouteDelete, RouteEnvSet, RouteEnvDelete}

// Route tunes one named route.
type Route struct {
	Name   string `toml:"name"`
	Guard  Guard  `toml:"guard"`
	Policy Policy `toml:"policy"`
}

// Guard restricts who may call a route. RequireAuth left unset takes the
// route's default; write routes default to true once auth is configured.
type Guard struct {
	Roles       []string `toml:"roles"`
	Users       []string `toml:"users"`
	RequireAuth *bool    `toml:"require_auth"`
}

// Authenticated reports whether require_auth is on.
func (g Guard) Authenticated() bool { return g.RequireAuth != nil && *g.RequireAuth }

// Open reports whether the guard lets anonymous callers through.
func (g Guard) Open() bool {
	return !g.Authenticated() && len(g.Roles) == 0 && len(g.Users) == 0
}

type Policy struct {
	TimeoutMS int `toml:"timeout_ms"`
}

func (r *Route) normalize() error {
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	if r.Name == "" {
		return errors.New("name is required")
	}
	for i, u := range r.Guard.Users {
		r.Guard.Users[i] = strings.TrimSpace(u)
	}
	for i, role := range r.Guard.Roles {
		r.Guard.Roles[i] = strings.TrimSpace(role)
	}
	return nil
}

func (r *Route) validate() error {
	if !routeNames[r.Name] {
		return fmt.Errorf("unknown route %q", r.Name)
	}
	if r.Policy.TimeoutMS < 0 {
		return errors.New("policy.timeout_ms must be >= 0")
	}
	return nil
}
