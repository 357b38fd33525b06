package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FORMFLOW_GATEWAY_URL", " https://gateway.example.co.za ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Addr:           ":8080",
		GatewayURL:     "https://gateway.example.co.za",
		GatewayTimeout: 30 * time.Second,
		LogLevel:       "info",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.RequireGateway(); err != nil {
		t.Fatalf("RequireGateway: %v", err)
	}
	if err := cfg.RequireServer(); !errors.Is(err, errJWTSecretMissing) {
		t.Fatalf("RequireServer = %v, want missing secret", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FORMFLOW_ADDR", "127.0.0.1:9000")
	t.Setenv("FORMFLOW_GATEWAY_URL", "http://localhost:4000")
	t.Setenv("FORMFLOW_GATEWAY_TOKEN", "svc-token")
	t.Setenv("FORMFLOW_GATEWAY_TIMEOUT", "5s")
	t.Setenv("FORMFLOW_JWT_SECRET", "s3cret")
	t.Setenv("FORMFLOW_CATALOG_DIR", "/etc/formflow/catalog")
	t.Setenv("FORMFLOW_LOG_LEVEL", "debug")
	t.Setenv("FORMFLOW_LOG_DEV", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Addr:           "127.0.0.1:9000",
		GatewayURL:     "http://localhost:4000",
		GatewayToken:   "svc-token",
		GatewayTimeout: 5 * time.Second,
		JWTSecret:      "s3cret",
		CatalogDir:     "/etc/formflow/catalog",
		LogLevel:       "debug",
		LogDev:         true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.RequireServer(); err != nil {
		t.Fatalf("RequireServer: %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("FORMFLOW_GATEWAY_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an unparsable duration")
	}
}

func TestRequireGateway(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"missing", Config{GatewayTimeout: time.Second}, false},
		{"relative", Config{GatewayURL: "gateway/api", GatewayTimeout: time.Second}, false},
		{"no timeout", Config{GatewayURL: "https://gw.example"}, false},
		{"valid", Config{GatewayURL: "https://gw.example", GatewayTimeout: time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.RequireGateway()
			if (err == nil) != tc.ok {
				t.Fatalf("RequireGateway() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
