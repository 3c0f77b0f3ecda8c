package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models huddle.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Worker struct {
		Image       string `yaml:"image"`
		CallbackURL string `yaml:"callback_url"`
		DefaultSTT  string `yaml:"default_stt"`
		DefaultTTS  string `yaml:"default_tts"`
		DefaultLang string `yaml:"default_lang"`
	} `yaml:"worker"`
	Sandbox struct {
		Root            string `yaml:"root"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"sandbox"`
	Datadog struct {
		APIKey    string `yaml:"api_key"`
		AppKey    string `yaml:"app_key"`
		Site      string `yaml:"site"`
		QueryDays int    `yaml:"query_days"`
		LineLimit int    `yaml:"line_limit"`
	} `yaml:"datadog"`
	Providers struct {
		DeepgramAPIKey   string `yaml:"deepgram_api_key"`
		ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
	} `yaml:"providers"`
	Auth struct {
		CallbackSecret string `yaml:"callback_secret"`
	} `yaml:"auth"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hud config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Worker.Image == "" {
		return fmt.Errorf("config.worker.image is required")
	}
	if c.Worker.CallbackURL != "" {
		if _, err := url.Parse(c.Worker.CallbackURL); err != nil {
			return fmt.Errorf("config.worker.callback_url: %w", err)
		}
	}
	if c.Sandbox.Root == "" {
		return fmt.Errorf("config.sandbox.root is required")
	}
	if c.Datadog.QueryDays <= 0 {
		return fmt.Errorf("config.datadog.query_days must be positive")
	}
	if c.Datadog.LineLimit <= 0 {
		return fmt.Errorf("config.datadog.line_limit must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "huddle.yml")
}

// Default returns the built-in defaults. Secrets are intentionally blank;
// missing keys degrade the features that need them instead of failing startup.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	cfg.Worker.Image = "ghcr.io/huddle/meet-agent:0.5.2"
	cfg.Worker.CallbackURL = "http://host.docker.internal:8080"
	cfg.Worker.DefaultSTT = "deepgram"
	cfg.Worker.DefaultTTS = "elevenlabs"
	cfg.Worker.DefaultLang = "en"
	cfg.Sandbox.Root = filepath.Join(os.TempDir(), "huddle-agents")
	cfg.Datadog.Site = "datadoghq.com"
	cfg.Datadog.QueryDays = 14
	cfg.Datadog.LineLimit = 1000
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

worker:
  # Versioned meeting-agent image; huddle never builds it.
  image: ghcr.io/huddle/meet-agent:0.5.2
  # Address the worker uses to report its transcript and summary.
  callback_url: http://host.docker.internal:8080
  default_stt: deepgram
  default_tts: elevenlabs
  default_lang: en

sandbox:
  # Per-meeting sandboxes live under <root>/<meeting-id>/.
  root: /tmp/huddle-agents
  # Optional Google service-account file mounted into the worker when present.
  credentials_file: ""

datadog:
  api_key: ""
  app_key: ""
  site: datadoghq.com
  query_days: 14
  line_limit: 1000

providers:
  deepgram_api_key: ""
  elevenlabs_api_key: ""

auth:
  callback_secret: ""
`
