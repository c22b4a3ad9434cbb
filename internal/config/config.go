package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App   AppConfig   `toml:"app"`
	Model ModelConfig `toml:"model"`
	HTTP  HTTPConfig  `toml:"http"`
	Cache CacheConfig `toml:"cache"`
	Log   LogConfig   `toml:"log"`
}

type AppConfig struct {
	Name    string `toml:"name"`
	Env     string `toml:"env"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	GinMode string `toml:"gin_mode"`
}

type ModelConfig struct {
	Path              string `toml:"path"`
	ONNXSharedLibPath string `toml:"onnx_shared_lib_path"`
	// Preload opens the model at startup instead of on the first request.
	Preload bool `toml:"preload"`
}

type HTTPConfig struct {
	MaxUploadMB int      `toml:"max_upload_mb"`
	CORSOrigins []string `toml:"cors_origins"`
}

// CacheConfig points at the Redis instance used for prediction results.
// An empty address disables caching.
type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// MaxUploadBytes caps the whole /predict request body.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.HTTP.MaxUploadMB) << 20
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Model.Path) == "" {
		return fmt.Errorf("model path must not be empty")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.App.Port)
	}
	if c.HTTP.MaxUploadMB <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d MB", c.HTTP.MaxUploadMB)
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %d seconds", c.Cache.TTLSeconds)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "brainage-api",
			Env:     "dev",
			Host:    "0.0.0.0",
			Port:    8000,
			GinMode: "debug",
		},
		Model: ModelConfig{
			Path:              "models/brain_age.onnx",
			ONNXSharedLibPath: "", // use default or set via ONNX_LIB
		},
		HTTP: HTTPConfig{
			MaxUploadMB: 512,
			CORSOrigins: []string{"*"},
		},
		Cache: CacheConfig{
			TTLSeconds: 86400,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)

	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Model.ONNXSharedLibPath = getEnv("ONNX_LIB", cfg.Model.ONNXSharedLibPath)
	cfg.Model.Preload = getEnvAsBool("MODEL_PRELOAD", cfg.Model.Preload)

	cfg.HTTP.MaxUploadMB = getEnvAsInt("MAX_UPLOAD_MB", cfg.HTTP.MaxUploadMB)
	cfg.HTTP.CORSOrigins = getEnvAsList("CORS_ORIGINS", cfg.HTTP.CORSOrigins)

	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvAsInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TTLSeconds = getEnvAsInt("CACHE_TTL_SECONDS", cfg.Cache.TTLSeconds)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
