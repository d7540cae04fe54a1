package manifest

import "fmt"

// validateRoutes normalizes [[route]] tables, rejects duplicates and applies
// the default write guards when auth is configured. A write route declared
// with an explicit require_auth keeps it.
func (c *Config) validateRoutes() error {
	seen := map[string]int{}
	for i := range c.Routes {
		if err := c.Routes[i].normalize(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if err := c.Routes[i].validate(); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, c.Routes[i].Name, err)
		}
		if _, dup := seen[c.Routes[i].Name]; dup {
			return fmt.Errorf("route %d: %q declared twice", i, c.Routes[i].Name)
		}
		seen[c.Routes[i].Name] = i
	}

	if c.Auth.Secret() == "" {
		return nil
	}
	for _, name := range writeRoutes {
		i, ok := seen[name]
		if !ok {
			c.Routes = append(c.Routes, Route{Name: name, Guard: Guard{RequireAuth: boolPtr(true)}})
			continue
		}
		if c.Routes[i].Guard.RequireAuth == nil {
			c.Routes[i].Guard.RequireAuth = boolPtr(true)
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
