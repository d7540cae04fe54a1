package core

import (
	"os"
	"strings"

	manifest "github.com/joeydtaylor/steeze-functions/pkg/manifest"
	toml "github.com/pelletier/go-toml/v2"
)

const defaultManifest = "manifest.toml"

// ManifestPath returns FUNCTIONS_MANIFEST when set, else manifest.toml.
func ManifestPath() string {
	if p := strings.TrimSpace(os.Getenv("FUNCTIONS_MANIFEST")); p != "" {
		return p
	}
	return defaultManifest
}

// LoadConfig decodes and validates a manifest. SERVER_LISTEN_ADDRESS
// overrides server.listen.
func LoadConfig(path string) (manifest.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return manifest.Config{}, err
	}
	var cfg manifest.Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return manifest.Config{}, err
	}
	if addr := strings.TrimSpace(os.Getenv("SERVER_LISTEN_ADDRESS")); addr != "" {
		cfg.Server.Listen = addr
	}
	if err := cfg.Validate(); err != nil {
		return manifest.Config{}, err
	}
	return cfg, nil
}
