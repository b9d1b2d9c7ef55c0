package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server   Server   `yaml:"server"`
	Gemini   Gemini   `yaml:"gemini"`
	Features Features `yaml:"features"`
	Session  Session  `yaml:"session"`
	Logging  Logging  `yaml:"logging"`
}

type Server struct {
	Host        string        `yaml:"host" env:"FINANALYZER_HOST"`
	Port        int           `yaml:"port" env:"FINANALYZER_PORT"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"FINANALYZER_READ_TIMEOUT"`
	// MaxUploadMB caps the multipart body accepted by the upload form.
	MaxUploadMB int64 `yaml:"max_upload_mb" env:"FINANALYZER_MAX_UPLOAD_MB"`
}

type Gemini struct {
	BaseURL           string        `yaml:"base_url" env:"GEMINI_BASE_URL"`
	Model             string        `yaml:"model" env:"GEMINI_MODEL"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	MaxOutputTokens   int           `yaml:"max_output_tokens" env:"GEMINI_MAX_OUTPUT_TOKENS"`
	Timeout           time.Duration `yaml:"timeout" env:"GEMINI_TIMEOUT"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"GEMINI_REQUESTS_PER_MINUTE"`
}

type Features struct {
	Premium bool `yaml:"premium" env:"FINANALYZER_PREMIUM"`
}

type Session struct {
	TTL time.Duration `yaml:"ttl" env:"FINANALYZER_SESSION_TTL"`
}

type Logging struct {
	Level string `yaml:"level" env:"FINANALYZER_LOG_LEVEL"`
	File  string `yaml:"file" env:"FINANALYZER_LOG_FILE"`
}

// ConfigDir returns the XDG config directory for finanalyzer.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "finanalyzer")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/finanalyzer/config.yaml > ./config.yaml.
// An empty path with a nil error means no file exists and defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file, then applies environment
// overrides. An empty path loads the built-in defaults.
func Load(path string) (*Config, error) {
	data := DefaultConfigYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Host:        "127.0.0.1",
			Port:        8000,
			ReadTimeout: 30 * time.Second,
			MaxUploadMB: 32,
		},
		Gemini: Gemini{
			BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
			Model:           "gemini-2.5-flash",
			APIKeyEnv:       "GEMINI_API_KEY",
			MaxOutputTokens: 8192,
			Timeout:         180 * time.Second,
		},
		Features: Features{Premium: true},
		Session:  Session{TTL: 2 * time.Hour},
		Logging:  Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// APIKey returns the Gemini API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Gemini.APIKeyEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
