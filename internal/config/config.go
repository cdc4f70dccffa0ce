package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvLLMAPIKey    = "LLM_API_KEY"
	EnvLLMBaseURL   = "LLM_BASE_URL"
	EnvLogLevel     = "LOG_LEVEL"
	EnvOwnerOpenID  = "OWNER_OPEN_ID"
	EnvAPIKeyPepper = "API_KEY_PEPPER"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ConfigExists reports whether the config file exists.
func ConfigExists(configPath string) bool {
	info, err := os.Stat(configPath)
	return err == nil && !info.IsDir()
}

// readOptional decodes the config file into out. A missing file is not an
// error; every loader has defaults and env overrides.
func readOptional(configPath string, out any) error {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return nil
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds the identity token secret and lifetime.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// Provider types understood by the LLM loader.
const (
	ProviderTypeOpenAI   = "openai"
	ProviderTypeLoopback = "loopback"
)

// LLMProvider describes one completion backend.
type LLMProvider struct {
	Name           string        `yaml:"name"`
	Type           string        `yaml:"type"`
	BaseURL        string        `yaml:"base-url"`
	APIKey         string        `yaml:"api-key"`
	Organization   string        `yaml:"organization"`
	RequestTimeout time.Duration `yaml:"request-timeout"`
	ModelOverride  string        `yaml:"model-override"`
	// ModelPrefixes routes models whose names start with one of these here.
	ModelPrefixes []string `yaml:"model-prefixes"`
}

// LLMConfig lists backends and names the default one.
type LLMConfig struct {
	Default   string        `yaml:"default"`
	Providers []LLMProvider `yaml:"providers"`
}

// LoadLLMConfig loads LLM backends. LLM_API_KEY and LLM_BASE_URL configure
// the first OpenAI backend, adding one when the file lists none. Without any
// backend the loopback provider is used.
func LoadLLMConfig(configPath string) (LLMConfig, error) {
	type fileConfig struct {
		LLM LLMConfig `yaml:"llm"`
	}
	var cfg fileConfig
	if errRead := readOptional(configPath, &cfg); errRead != nil {
		return LLMConfig{}, errRead
	}
	result := cfg.LLM

	apiKey := strings.TrimSpace(os.Getenv(EnvLLMAPIKey))
	baseURL := strings.TrimSpace(os.Getenv(EnvLLMBaseURL))
	if apiKey != "" || baseURL != "" {
		idx := -1
		for i := range result.Providers {
			if strings.EqualFold(strings.TrimSpace(result.Providers[i].Type), ProviderTypeOpenAI) {
				idx = i
				break
			}
		}
		if idx < 0 {
			result.Providers = append(result.Providers, LLMProvider{Name: ProviderTypeOpenAI, Type: ProviderTypeOpenAI})
			idx = len(result.Providers) - 1
		}
		if apiKey != "" {
			result.Providers[idx].APIKey = apiKey
		}
		if baseURL != "" {
			result.Providers[idx].BaseURL = baseURL
		}
	}

	for i := range result.Providers {
		p := &result.Providers[i]
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.Type == "" {
			p.Type = ProviderTypeOpenAI
		}
		if p.Type != ProviderTypeOpenAI && p.Type != ProviderTypeLoopback {
			return LLMConfig{}, fmt.Errorf("llm provider %q: unknown type %q", p.Name, p.Type)
		}
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			p.Name = p.Type
		}
	}
	if len(result.Providers) == 0 {
		result.Providers = []LLMProvider{{Name: ProviderTypeLoopback, Type: ProviderTypeLoopback}}
	}
	result.Default = strings.TrimSpace(result.Default)
	if result.Default == "" {
		result.Default = result.Providers[0].Name
	}
	return result, nil
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// LoadLoggingConfig loads logging settings; LOG_LEVEL overrides the level.
func LoadLoggingConfig(configPath string) (LoggingConfig, error) {
	type fileConfig struct {
		Logging LoggingConfig `yaml:"logging"`
	}
	var cfg fileConfig
	if errRead := readOptional(configPath, &cfg); errRead != nil {
		return LoggingConfig{}, errRead
	}
	result := cfg.Logging
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		result.Level = level
	}
	if strings.TrimSpace(result.Level) == "" {
		result.Level = "info"
	}
	if strings.TrimSpace(result.Format) == "" {
		result.Format = "text"
	}
	if result.MaxSizeMB <= 0 {
		result.MaxSizeMB = 100
	}
	return result, nil
}

// CatalogConfig locates the model catalog sources.
type CatalogConfig struct {
	SeedFile     string        `yaml:"seed-file"`
	URL          string        `yaml:"url"`
	SyncInterval time.Duration `yaml:"sync-interval"`
}

// LoadCatalogConfig loads catalog settings. A relative seed file resolves
// against the config file directory.
func LoadCatalogConfig(configPath string) (CatalogConfig, error) {
	type fileConfig struct {
		Catalog CatalogConfig `yaml:"catalog"`
	}
	var cfg fileConfig
	if errRead := readOptional(configPath, &cfg); errRead != nil {
		return CatalogConfig{}, errRead
	}
	result := cfg.Catalog
	result.SeedFile = strings.TrimSpace(result.SeedFile)
	result.URL = strings.TrimSpace(result.URL)
	if result.SeedFile != "" && !filepath.IsAbs(result.SeedFile) {
		result.SeedFile = filepath.Join(filepath.Dir(configPath), result.SeedFile)
	}
	return result, nil
}

// ServerConfig holds listener and account settings.
type ServerConfig struct {
	Port                    int           `yaml:"port"`
	OwnerOpenID             string        `yaml:"owner-open-id"`
	APIKeyPepper            string        `yaml:"api-key-pepper"`
	SettingsRefreshInterval time.Duration `yaml:"settings-refresh-interval"`
	ShutdownTimeout         time.Duration `yaml:"shutdown-timeout"`
}

const (
	// DefaultPort is used when neither the flag nor the file sets a port.
	DefaultPort             = 8318
	defaultShutdownTimeout  = 15 * time.Second
	defaultSettingsInterval = 10 * time.Second
)

// LoadServerConfig loads server settings. The API key pepper falls back to
// the JWT secret.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	type fileConfig struct {
		Server ServerConfig `yaml:"server"`
	}
	var cfg fileConfig
	if errRead := readOptional(configPath, &cfg); errRead != nil {
		return ServerConfig{}, errRead
	}
	result := cfg.Server
	if owner := strings.TrimSpace(os.Getenv(EnvOwnerOpenID)); owner != "" {
		result.OwnerOpenID = owner
	}
	if pepper := strings.TrimSpace(os.Getenv(EnvAPIKeyPepper)); pepper != "" {
		result.APIKeyPepper = pepper
	}
	result.OwnerOpenID = strings.TrimSpace(result.OwnerOpenID)
	if strings.TrimSpace(result.APIKeyPepper) == "" {
		jwtCfg, _ := LoadJWTConfig(configPath)
		result.APIKeyPepper = jwtCfg.Secret
	}
	if result.SettingsRefreshInterval <= 0 {
		result.SettingsRefreshInterval = defaultSettingsInterval
	}
	if result.ShutdownTimeout <= 0 {
		result.ShutdownTimeout = defaultShutdownTimeout
	}
	return result, nil
}
