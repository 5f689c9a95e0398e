// Package config loads the client configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// HostedBaseURL is the backend used when the dashboard itself is hosted.
	HostedBaseURL = "https://quality-app-ufxj.onrender.com"
	// LocalBaseURL is the development backend.
	LocalBaseURL = "http://127.0.0.1:8000"

	defaultEnvFile = ".env"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// hostedSuffixes mark page hosts that talk to the hosted backend.
var hostedSuffixes = []string{"onrender.com", "pages.dev"}

// Config holds the client configuration.
type Config struct {
	API    APIConfig
	Auth   AuthConfig
	Cache  CacheConfig
	Log    LogConfig
	Export ExportConfig
}

type APIConfig struct {
	BaseURL      string
	PageHost     string
	Timeout      time.Duration
	RenewTimeout time.Duration
	UserAgent    string
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
}

type AuthConfig struct {
	Email    string
	Password string
}

type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type LogConfig struct {
	Level  string
	Format string
}

type ExportConfig struct {
	Dir   string
	MinIO MinIOConfig
}

// MinIOConfig selects the object storage sink when Endpoint is set.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether exports go to object storage.
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// Load reads envFile (when given it must exist; otherwise ./.env is tried) and then the
// process environment. Environment variables win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load(defaultEnvFile)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DASH_API_TIMEOUT", "30s")
	v.SetDefault("DASH_RENEW_TIMEOUT", "15s")
	v.SetDefault("DASH_USER_AGENT", "dashctl")
	v.SetDefault("DASH_RATE_LIMIT", 0)
	v.SetDefault("DASH_RATE_BURST", 5)
	v.SetDefault("DASH_CACHE", CacheMemory)
	v.SetDefault("DASH_CACHE_TTL", "1m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "qualityapi:")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("DASH_EXPORT_DIR", ".")
	v.SetDefault("MINIO_BUCKET", "dashboard-exports")
	v.SetDefault("MINIO_USE_SSL", false)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		API: APIConfig{
			BaseURL: ResolveBaseURL(
				[]string{v.GetString("DASH_API_URL"), v.GetString("VITE_API_URL"), v.GetString("VITE_API_BASE_URL")},
				v.GetString("DASH_PAGE_HOST"),
			),
			PageHost:     v.GetString("DASH_PAGE_HOST"),
			Timeout:      v.GetDuration("DASH_API_TIMEOUT"),
			RenewTimeout: v.GetDuration("DASH_RENEW_TIMEOUT"),
			UserAgent:    v.GetString("DASH_USER_AGENT"),
			RateLimit:    v.GetFloat64("DASH_RATE_LIMIT"),
			Burst:        v.GetInt("DASH_RATE_BURST"),
		},
		Auth: AuthConfig{
			Email:    v.GetString("DASH_EMAIL"),
			Password: os.Getenv("DASH_PASSWORD"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("DASH_CACHE")),
			TTL:           v.GetDuration("DASH_CACHE_TTL"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			RedisPrefix:   v.GetString("REDIS_PREFIX"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
		Export: ExportConfig{
			Dir: v.GetString("DASH_EXPORT_DIR"),
			MinIO: MinIOConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				Bucket:    v.GetString("MINIO_BUCKET"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
			},
		},
	}
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is empty"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("DASH_API_TIMEOUT must be positive, got %s", c.API.Timeout))
	}
	if c.API.RenewTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DASH_RENEW_TIMEOUT must be positive, got %s", c.API.RenewTimeout))
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		errs = append(errs, fmt.Errorf("DASH_CACHE must be memory, redis or none, got %q", c.Cache.Backend))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}
	if c.Export.MinIO.Enabled() && c.Export.MinIO.Bucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}
	return errors.Join(errs...)
}

// ResolveBaseURL picks the API endpoint: the first non-blank explicit candidate (trailing
// slashes removed), else the hosted backend when pageHost is a hosted dashboard, else the
// local development server.
func ResolveBaseURL(explicit []string, pageHost string) string {
	for _, c := range explicit {
		if c = strings.TrimSpace(c); c != "" {
			return strings.TrimRight(c, "/")
		}
	}
	host := strings.ToLower(pageHost)
	for _, suffix := range hostedSuffixes {
		if strings.Contains(host, suffix) {
			return HostedBaseURL
		}
	}
	return LocalBaseURL
}
