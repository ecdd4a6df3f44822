package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// StorageConfig holds the catalog database and registration file locations.
type StorageConfig struct {
	DBPath       string `yaml:"db_path"`
	SettingsPath string `yaml:"settings_path"`
}

// ScraperConfig holds request shaping shared by every retailer adapter.
type ScraperConfig struct {
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	RefreshIntervalHours  int     `yaml:"refresh_interval_hours"`
	Headless              bool    `yaml:"headless"`
}

// Config is the complete structure of the config.yml file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Scraper ScraperConfig `yaml:"scraper"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "9090"},
		Storage: StorageConfig{
			DBPath:       "./catalog.db",
			SettingsPath: "./stores.json",
		},
		Scraper: ScraperConfig{
			RequestTimeoutSeconds: 20,
			RequestsPerSecond:     4,
			RefreshIntervalHours:  24,
			Headless:              true,
		},
	}
}

// Load reads the config file, falling back to defaults when it is absent.
// A malformed file is fatal; running with half a config is worse than not
// starting.
func Load(filepath string) *Config {
	cfg := defaults()

	data, err := os.ReadFile(filepath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Error reading config file: %v", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Fatalf("Error unmarshalling config YAML: %v", err)
	}

	// Env vars win over the file for the two deploy-sensitive knobs.
	if v := os.Getenv("CATALOG_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REFRESH_INTERVAL_HOURS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Scraper.RefreshIntervalHours = parsed
		}
	}

	return cfg
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scraper.RequestTimeoutSeconds) * time.Second
}

// RefreshInterval returns the background refresh period.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Scraper.RefreshIntervalHours) * time.Hour
}
