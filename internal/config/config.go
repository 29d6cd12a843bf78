package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Resolver backends
const (
	ResolverPostGIS = "postgis"
	// ResolverMemory loads the boundaries into an R-tree at startup. Jurisdictions seeded later
	// resolve only after the API receives SIGHUP or restarts.
	ResolverMemory = "memory"
)

const devJWTSecret = "default_super_secret_key"

// Config is the process configuration, read from the environment after configs/.env is loaded.
type Config struct {
	GinMode  string
	Port     string
	LogLevel string

	DB DBConfig

	JWTSecret      string
	TaxTimezone    string
	Resolver       string
	ImportWorkers  int
	ImportMaxBytes int64
	CORSOrigins    []string

	Archive ArchiveConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the postgres connection URL.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// ArchiveConfig enables the S3 copy of imported files when Bucket is set.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// Release reports whether gin runs in release mode.
func (c Config) Release() bool { return c.GinMode == "release" }

// Load reads envFile if present (a missing file is not an error) and then the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("TAX_TIMEZONE", "America/New_York")
	v.SetDefault("RESOLVER", ResolverPostGIS)
	v.SetDefault("IMPORT_WORKERS", 8)
	v.SetDefault("IMPORT_MAX_BYTES", 32<<20)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("ARCHIVE_S3_REGION", "us-east-1")
	v.SetDefault("ARCHIVE_S3_PATH_STYLE", false)

	cfg := &Config{
		GinMode:  v.GetString("GIN_MODE"),
		Port:     v.GetString("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DB: DBConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		JWTSecret:      v.GetString("JWT_SECRET"),
		TaxTimezone:    v.GetString("TAX_TIMEZONE"),
		Resolver:       strings.ToLower(v.GetString("RESOLVER")),
		ImportWorkers:  v.GetInt("IMPORT_WORKERS"),
		ImportMaxBytes: v.GetInt64("IMPORT_MAX_BYTES"),
		CORSOrigins:    splitList(v.GetString("CORS_ORIGINS")),
		Archive: ArchiveConfig{
			Bucket:          v.GetString("ARCHIVE_S3_BUCKET"),
			Region:          v.GetString("ARCHIVE_S3_REGION"),
			Endpoint:        v.GetString("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     v.GetString("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("ARCHIVE_S3_SECRET_ACCESS_KEY"),
			PathStyle:       v.GetBool("ARCHIVE_S3_PATH_STYLE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if c.Release() {
			return errors.New("JWT_SECRET is required in release mode")
		}
		c.JWTSecret = devJWTSecret
	}
	if c.Resolver != ResolverPostGIS && c.Resolver != ResolverMemory {
		return fmt.Errorf("RESOLVER must be %q or %q, got %q", ResolverPostGIS, ResolverMemory, c.Resolver)
	}
	if c.ImportWorkers < 1 {
		return fmt.Errorf("IMPORT_WORKERS must be positive, got %d", c.ImportWorkers)
	}
	if c.ImportMaxBytes < 1 {
		return fmt.Errorf("IMPORT_MAX_BYTES must be positive, got %d", c.ImportMaxBytes)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
