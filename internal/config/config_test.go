package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chronoline/internal/config"
)

func TestDefaultMatchesGeneratedTemplate(t *testing.T) {
	cfg := config.Default("abc123")
	if cfg.Server.Listen != "127.0.0.1:8787" {
		t.Fatalf("listen: %s", cfg.Server.Listen)
	}
	if cfg.Server.JWTSecret != "abc123" {
		t.Fatalf("secret: %s", cfg.Server.JWTSecret)
	}
	if cfg.TokenTTL() != 480 {
		t.Fatalf("ttl: %d", cfg.TokenTTL())
	}
	if cfg.Server.AllowActorHeader {
		t.Fatal("actor header must be off by default")
	}
	// The generated template parses back to the same config.
	parsed, err := config.FromYAML([]byte(config.GenerateDefault("abc123")))
	if err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	if parsed.Server.JWTSecret != cfg.Server.JWTSecret || parsed.Server.Listen != cfg.Server.Listen {
		t.Fatalf("template drift: %+v vs %+v", parsed.Server, cfg.Server)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chronoline.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("s3cret")), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("secret: %s", cfg.Server.JWTSecret)
	}
	if _, err := config.FromFile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]string{
		"missing listen": "server:\n  jwt_secret: x\n",
		"missing secret": "server:\n  listen: 127.0.0.1:8787\n",
		"empty webhook":  "server:\n  listen: 127.0.0.1:8787\n  jwt_secret: x\nwebhooks:\n  - url: \"\"\n",
	}
	for name, yml := range cases {
		if _, err := config.FromYAML([]byte(yml)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("absent config: %v %v", cfg, err)
	}
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("k")), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("present config: %v %v", cfg, err)
	}
	if !strings.HasSuffix(config.Path(dir), "chronoline.yml") {
		t.Fatalf("path: %s", config.Path(dir))
	}
}
