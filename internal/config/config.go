package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the environment-driven configuration shared by both
// binaries. The agent additionally reads a YAML tuning file for the
// save pipeline knobs (see Tuning).
type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	CORSOrigins string
	TablePrefix string
	// Agent settings
	ServerURL    string
	AuthToken    string
	AuthSecret   string
	DataDir      string
	TuningFile   string
	SuggestURL   string
	SuggestToken string
	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:         getEnv("PORT", "8080"),
		Environment:  env,
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:  getTablePrefix(env),
		ServerURL:    getEnv("VELLUM_SERVER_URL", "http://localhost:8080/api/v1"),
		AuthToken:    getEnv("VELLUM_AUTH_TOKEN", ""),
		AuthSecret:   getEnv("VELLUM_AUTH_SECRET", ""),
		DataDir:      getEnv("VELLUM_DATA_DIR", defaultDataDir()),
		TuningFile:   getEnv("VELLUM_TUNING_FILE", ""),
		SuggestURL:   getEnv("VELLUM_SUGGEST_URL", ""),
		SuggestToken: getEnv("VELLUM_SUGGEST_TOKEN", ""),
		Debug:        getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Tuning holds the save pipeline knobs. Zero values fall back to the
// pipeline defaults, so a partial file is fine.
type Tuning struct {
	DebounceMS       int `yaml:"debounce_ms"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `yaml:"retry_max_delay_ms"`
	MaxRetries       int `yaml:"max_retries"`
	VersionThreshold int `yaml:"version_threshold"`
	ProbeIntervalSec int `yaml:"probe_interval_sec"`
}

// LoadTuning reads the YAML tuning file. A missing path returns zero
// tuning without error; a present but malformed file is a hard error so
// typos do not silently run with defaults.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	return t, nil
}

func (t Tuning) Debounce() time.Duration       { return msOrZero(t.DebounceMS) }
func (t Tuning) RetryBaseDelay() time.Duration { return msOrZero(t.RetryBaseDelayMS) }
func (t Tuning) RetryMaxDelay() time.Duration  { return msOrZero(t.RetryMaxDelayMS) }

func (t Tuning) ProbeInterval() time.Duration {
	return time.Duration(t.ProbeIntervalSec) * time.Second
}

func msOrZero(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vellum"
	}
	return home + "/.vellum"
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
