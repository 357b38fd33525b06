// Package config loads the formflow runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. FORMFLOW_ADDR.
const Prefix = "FORMFLOW"

var (
	errGatewayURLMissing = errors.New("config: FORMFLOW_GATEWAY_URL is required")
	errJWTSecretMissing  = errors.New("config: FORMFLOW_JWT_SECRET is required")
)

// Config holds the settings shared by the server and the CLI commands.
type Config struct {
	Addr           string        `envconfig:"ADDR" default:":8080"`
	GatewayURL     string        `envconfig:"GATEWAY_URL"`
	GatewayToken   string        `envconfig:"GATEWAY_TOKEN"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	// CatalogDir replaces the embedded catalog when set.
	CatalogDir string `envconfig:"CATALOG_DIR"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev     bool   `envconfig:"LOG_DEV"`
}

// Load reads the FORMFLOW_* variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.GatewayURL = strings.TrimSpace(cfg.GatewayURL)
	return cfg, nil
}

// RequireGateway checks the settings every gateway-backed command needs.
func (c Config) RequireGateway() error {
	if c.GatewayURL == "" {
		return errGatewayURLMissing
	}
	u, err := url.Parse(c.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: FORMFLOW_GATEWAY_URL %q is not an absolute URL", c.GatewayURL)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("config: FORMFLOW_GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout)
	}
	return nil
}

// RequireServer checks the settings the HTTP server needs on top of the
// gateway ones.
func (c Config) RequireServer() error {
	if err := c.RequireGateway(); err != nil {
		return err
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errJWTSecretMissing
	}
	return nil
}
