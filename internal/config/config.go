// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kpauljoseph/ankisnap/pkg/utils"
)

const (
	DefaultAnkiConnectURL = "http://localhost:8765"
	DefaultListenAddr     = "127.0.0.1:8766"
	DefaultChromeURL      = "http://127.0.0.1:9222"

	NotificationsDesktop = "desktop"
	NotificationsLog     = "log"
)

type Config struct {
	AnkiConnectURL string `yaml:"anki_connect_url" validate:"required,url"`
	StateFile      string `yaml:"state_file" validate:"required"`
	ListenAddr     string `yaml:"listen_addr" validate:"required,hostname_port"`
	ChromeURL      string `yaml:"chrome_url" validate:"required,url"`
	Notifications  string `yaml:"notifications" validate:"oneof=desktop log"`
	Capture        struct {
		MinSelection float64       `yaml:"min_selection" validate:"gt=0"`
		SettleDelay  time.Duration `yaml:"settle_delay" validate:"gte=0"`
		PDFDPI       float64       `yaml:"pdf_dpi" validate:"gte=36,lte=1200"`
	} `yaml:"capture"`
	Guided struct {
		PreviewLength int `yaml:"preview_length" validate:"gt=0"`
	} `yaml:"guided"`
	Breaker struct {
		MaxFailures uint32        `yaml:"max_failures" validate:"gt=0"`
		OpenTimeout time.Duration `yaml:"open_timeout" validate:"gt=0"`
	} `yaml:"breaker"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AnkiConnectURL == "" {
		cfg.AnkiConnectURL = DefaultAnkiConnectURL
	}
	if cfg.StateFile == "" {
		cfg.StateFile = utils.GetDefaultStateFile()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ChromeURL == "" {
		cfg.ChromeURL = DefaultChromeURL
	}
	if cfg.Notifications == "" {
		cfg.Notifications = NotificationsDesktop
	}
	if cfg.Capture.MinSelection == 0 {
		cfg.Capture.MinSelection = 10
	}
	if cfg.Capture.SettleDelay == 0 {
		cfg.Capture.SettleDelay = 100 * time.Millisecond
	}
	if cfg.Capture.PDFDPI == 0 {
		cfg.Capture.PDFDPI = 144
	}
	if cfg.Guided.PreviewLength == 0 {
		cfg.Guided.PreviewLength = 50
	}
	if cfg.Breaker.MaxFailures == 0 {
		cfg.Breaker.MaxFailures = 5
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = 30 * time.Second
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
