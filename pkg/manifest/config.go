package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeydtaylor/steeze-functions/pkg/cache"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/auth"
	"github.com/joeydtaylor/steeze-functions/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-functions/pkg/sandbox"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
	"github.com/joeydtaylor/steeze-functions/pkg/telemetry"
)

const DefaultBodyLimit = 1 << 20

// Config is the top-level manifest. Every section is optional; Validate fills
// defaults in place.
type Config struct {
	Server    Server           `toml:"server"`
	Store     store.Config     `toml:"store"`
	Cache     cache.Config     `toml:"cache"`
	Sandbox   sandbox.Config   `toml:"sandbox"`
	Auth      auth.Config      `toml:"auth"`
	Telemetry telemetry.Config `toml:"telemetry"`
	Log       logger.Config    `toml:"log"`
	Routes    []Route          `toml:"route"`
}

type Server struct {
	Listen         string `toml:"listen"`
	BodyLimitBytes int64  `toml:"body_limit_bytes"`
}

// Validate normalizes the manifest and rejects values that can never work.
func (c *Config) Validate() error {
	if c.Server.BodyLimitBytes < 0 {
		return errors.New("server.body_limit_bytes must be >= 0")
	}
	if c.Server.BodyLimitBytes == 0 {
		c.Server.BodyLimitBytes = DefaultBodyLimit
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = ":4000"
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", store.DriverBadger:
		c.Store.Driver = store.DriverBadger
	case store.DriverSQLite:
		c.Store.Driver = store.DriverSQLite
	default:
		return fmt.Errorf("store.driver %q invalid", c.Store.Driver)
	}
	if !c.Store.InMemory && strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path is required unless store.in_memory is set")
	}

	if c.Cache.MaxEntries < 0 || c.Cache.NumCounters < 0 {
		return errors.New("cache values must be >= 0")
	}
	if c.Sandbox.TimeoutMS < 0 {
		return errors.New("sandbox.timeout_ms must be >= 0")
	}
	if c.Auth.LeewaySec < 0 {
		return errors.New("auth.leeway_seconds must be >= 0")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return errors.New("telemetry.sample_ratio must be in [0,1]")
	}

	return c.validateRoutes()
}

// Route returns the settings for a named route, or the zero Route when the
// manifest does not mention it.
func (c *Config) Route(name string) Route {
	for _, r := range c.Routes {
		if r.Name == name {
			return r
		}
	}
	return Route{Name: name}
}
