package dust

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/st-keller/dust-client/collector"
	"github.com/st-keller/dust-client/heartbeat"
	"github.com/st-keller/dust-client/logger"
)

// Config holds client configuration.
type Config struct {
	CollectorURL string `yaml:"collector_url"` // e.g. "https://dust.tahakara.dev"
	IpifyURL     string `yaml:"ipify_url"`     // generic address echo

	// PageURL stands in for the page location when the environment source
	// does not report one. Referrer is the document referrer fallback.
	PageURL  string `yaml:"page_url"`
	Referrer string `yaml:"referrer"`

	StoragePath       string        `yaml:"storage_path"` // bbolt file mirroring the cookies
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Timeout           time.Duration `yaml:"timeout"` // per request, 0 = none

	// Optional mTLS material for the collector, all or nothing.
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
	CAPath   string `yaml:"ca_path"`

	Log logger.Config `yaml:"log"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CollectorURL:      collector.DefaultBaseURL,
		IpifyURL:          collector.DefaultIpifyURL,
		StoragePath:       "dust.db",
		HeartbeatInterval: heartbeat.DefaultInterval,
		Timeout:           10 * time.Second,
		Log:               logger.DefaultConfig(),
	}
}

// LoadConfigFile reads a YAML file over the defaults and applies environment
// overrides. An empty path skips the file.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DUST_COLLECTOR_URL"); v != "" {
		c.CollectorURL = v
	}
	if v := os.Getenv("DUST_PAGE_URL"); v != "" {
		c.PageURL = v
	}
	if v := os.Getenv("DUST_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("DUST_HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DUST_HEARTBEAT_INTERVAL %q: %w", v, err)
		}
		c.HeartbeatInterval = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validateURL("CollectorURL", c.CollectorURL); err != nil {
		return err
	}
	if err := validateURL("IpifyURL", c.IpifyURL); err != nil {
		return err
	}
	if c.PageURL != "" {
		if _, err := url.Parse(c.PageURL); err != nil {
			return fmt.Errorf("PageURL invalid: %w", err)
		}
	}
	if c.StoragePath == "" {
		return fmt.Errorf("StoragePath required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be > 0")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("Timeout must be >= 0")
	}

	set := 0
	for _, p := range []string{c.CertPath, c.KeyPath, c.CAPath} {
		if p != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("CertPath, KeyPath and CAPath must be set together")
	}

	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s invalid: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	return nil
}
