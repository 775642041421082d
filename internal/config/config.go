package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models chronoline.yml.
type Config struct {
	Server struct {
		Listen           string `yaml:"listen"`
		JWTSecret        string `yaml:"jwt_secret"`
		TokenTTLMinutes  int    `yaml:"token_ttl_minutes"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
	Admin struct {
		Email    string `yaml:"email"`
		Name     string `yaml:"name"`
		Password string `yaml:"password"`
	} `yaml:"admin"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook posts matching audit entries to a URL. An empty Actions list
// matches everything.
type Webhook struct {
	URL     string   `yaml:"url"`
	Actions []string `yaml:"actions"`
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.jwt_secret is required")
	}
	if c.Server.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.server.token_ttl_minutes must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		for _, a := range wh.Actions {
			if a == "" {
				return fmt.Errorf("webhook %d has empty action", i)
			}
		}
	}
	return nil
}

// TokenTTL returns the configured token lifetime in minutes, defaulted.
func (c *Config) TokenTTL() int {
	if c.Server.TokenTTLMinutes == 0 {
		return 8 * 60
	}
	return c.Server.TokenTTLMinutes
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "chronoline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(secret string) string {
	return fmt.Sprintf(defaultTemplate, secret)
}

// Default returns the default Config struct.
func Default(secret string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, secret))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  listen: 127.0.0.1:8787
  jwt_secret: %s
  token_ttl_minutes: 480
  allow_actor_header: false

admin:
  email: admin@example.com
  name: Administrator
  password: ""

webhooks: []
`
