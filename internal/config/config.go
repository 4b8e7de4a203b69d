package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultServerAddress  = ":8090"
	DefaultBackend        = "rest"
	DefaultContextWindow  = 10
	DefaultRequestTimeout = 120
	DefaultKeyPrefix      = "geminichat:"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Storage     StorageConfig             `json:"storage"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Backend picks the generation client: rest, genai or eino.
	Backend string `json:"backend"`
	// Provider is the eino chat model provider (openai, claude, gemini).
	Provider              string   `json:"provider"`
	ContextWindow         int      `json:"context_window"`
	RequestTimeoutSeconds int      `json:"request_timeout_seconds"`
	// Stream fills the reply in as partial text arrives.
	Stream      bool     `json:"stream"`
	ExtraModels []string `json:"extra_models"`
}

type StorageConfig struct {
	Driver    string `json:"driver"`
	KeyPrefix string `json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

var supportedDrivers = map[string]bool{
	"sqlite3": true,
	"mysql":   true,
	"bolt":    true,
	"redis":   true,
	"memory":  true,
}

var supportedBackends = map[string]bool{
	"rest":  true,
	"genai": true,
	"eino":  true,
}

var defaultFileDSNs = map[string]string{
	"sqlite3": "./data/geminichat.db",
	"bolt":    "./data/geminichat.bolt",
}

// Default returns a configuration that runs against a local sqlite file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default config.json is not an error; the defaults are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnv()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()

	// file based dsns are relative to the config file
	for _, driver := range []string{"sqlite3", "bolt"} {
		dbCfg, ok := cfg.Databases[driver]
		if !ok || dbCfg.DSN == "" || dbCfg.DSN == ":memory:" || filepath.IsAbs(dbCfg.DSN) {
			continue
		}
		dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
		cfg.Databases[driver] = dbCfg
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.Backend == "" {
		c.BasicConfig.Backend = DefaultBackend
	}
	if c.BasicConfig.ContextWindow <= 0 {
		c.BasicConfig.ContextWindow = DefaultContextWindow
	}
	if c.BasicConfig.RequestTimeoutSeconds <= 0 {
		c.BasicConfig.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite3"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = DefaultKeyPrefix
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	for driver, dsn := range defaultFileDSNs {
		if c.Databases[driver].DSN == "" {
			dbCfg := c.Databases[driver]
			dbCfg.DSN = dsn
			c.Databases[driver] = dbCfg
		}
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_DB")); v != "" {
		c.Storage.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_BACKEND")); v != "" {
		c.BasicConfig.Backend = v
	}
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == "sqlite" {
		c.Storage.Driver = "sqlite3"
	}
	if !supportedDrivers[c.Storage.Driver] {
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}
	c.BasicConfig.Backend = strings.ToLower(c.BasicConfig.Backend)
	if !supportedBackends[c.BasicConfig.Backend] {
		return fmt.Errorf("unsupported backend: %s", c.BasicConfig.Backend)
	}
	switch c.Storage.Driver {
	case "sqlite3", "bolt":
		if c.Databases[c.Storage.Driver].DSN == "" {
			return fmt.Errorf("%s dsn must be configured", c.Storage.Driver)
		}
	}
	return nil
}

// Provider returns the provider entry, or an empty one when absent.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}
