package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models decoflow.yml.
type Config struct {
	Service struct {
		BasePath string `yaml:"base_path"`
	} `yaml:"service"`
	Orders struct {
		BaseURL        string `yaml:"base_url"`
		Username       string `yaml:"username"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"orders"`
	Rooms struct {
		Source string `yaml:"source"`
		Shared string `yaml:"shared"`
	} `yaml:"rooms"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		AllowTeamHeader bool   `yaml:"allow_team_header"`
	} `yaml:"auth"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with decoflow config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

func (c *Config) applyDefaults() {
	if c.Service.BasePath == "" {
		c.Service.BasePath = "/v0"
	}
	if c.Orders.TimeoutSeconds == 0 {
		c.Orders.TimeoutSeconds = 10
	}
	if c.Rooms.Source == "" {
		c.Rooms.Source = "source"
	}
	if c.Rooms.Shared == "" {
		c.Rooms.Shared = "decoration"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Orders.BaseURL) == "" {
		return fmt.Errorf("config.orders.base_url is required")
	}
	if c.Rooms.Source == c.Rooms.Shared {
		return fmt.Errorf("config.rooms.source and config.rooms.shared must differ")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "decoflow.yml")
}

// Default returns the default Config for an orders base URL.
func Default(ordersURL string) *Config {
	var cfg Config
	cfg.Orders.BaseURL = ordersURL
	cfg.Orders.Username = "glass_admin"
	cfg.applyDefaults()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(ordersURL string) string {
	return fmt.Sprintf(defaultTemplate, ordersURL)
}

const defaultTemplate = `service:
  base_path: /v0

orders:
  base_url: %s
  username: glass_admin
  timeout_seconds: 10

rooms:
  source: source
  shared: decoration

auth:
  jwt_secret: ""
  allow_team_header: true

redis:
  addr: ""

webhooks: []
`
