package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

// ObjectStore holds the cover bucket settings. An empty Endpoint disables covers.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
	PublicURL string `yaml:"publicURL"`
}

func (o ObjectStore) Enabled() bool {
	return o.Endpoint != ""
}

type Config struct {
	Addr               string        `yaml:"addr"`
	DatabaseDSN        string        `yaml:"databaseDSN"`
	JWTSecret          string        `yaml:"jwtSecret"`
	LogLevel           string        `yaml:"logLevel"`
	PageSize           int           `yaml:"pageSize"`
	DBTimeout          time.Duration `yaml:"dbTimeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
	RateLimitRPS       float64       `yaml:"rateLimitRPS"`
	RateLimitBurst     int           `yaml:"rateLimitBurst"`
	RedisAddr          string        `yaml:"redisAddr"`
	RedisPassword      string        `yaml:"redisPassword"`
	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
	TrustedProxies     []string      `yaml:"trustedProxies"`
	MaxBodyBytes       int64         `yaml:"maxBodyBytes"`
	EnableHSTS         bool          `yaml:"enableHSTS"`
	DeleteOrphanImages bool          `yaml:"deleteOrphanImages"`
	ObjectStore        ObjectStore   `yaml:"objectStore"`
}

func defaults() Config {
	return Config{
		Addr:               ":8080",
		DatabaseDSN:        "sqlite:mybooks.db",
		LogLevel:           "info",
		PageSize:           3,
		DBTimeout:          3 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		MaxBodyBytes:       1 << 20,
	}
}

// LoadEnvFiles reads .env and .env.local without overriding variables the
// runtime already set.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Load builds the configuration from defaults, the YAML file at path and then
// the environment. An empty path means $CONFIG_FILE or config.yaml; only the
// implicit default may be missing.
func Load(path string) (Config, error) {
	LoadEnvFiles()

	cfg := defaults()
	explicit := path != ""
	if !explicit {
		if path = os.Getenv("CONFIG_FILE"); path != "" {
			explicit = true
		} else {
			path = DefaultPath
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("APP_ADDR", &cfg.Addr)
	str("DB_DSN", &cfg.DatabaseDSN)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("OBJECT_STORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	str("OBJECT_STORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	str("OBJECT_STORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	str("OBJECT_STORE_BUCKET", &cfg.ObjectStore.Bucket)
	str("OBJECT_STORE_REGION", &cfg.ObjectStore.Region)
	str("OBJECT_STORE_PUBLIC_URL", &cfg.ObjectStore.PublicURL)

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		}
	}
	parse("PAGE_SIZE", func(v string) (err error) { cfg.PageSize, err = strconv.Atoi(v); return })
	parse("DB_TIMEOUT", func(v string) (err error) { cfg.DBTimeout, err = time.ParseDuration(v); return })
	parse("SHUTDOWN_TIMEOUT", func(v string) (err error) { cfg.ShutdownTimeout, err = time.ParseDuration(v); return })
	parse("RATE_LIMIT_RPS", func(v string) (err error) { cfg.RateLimitRPS, err = strconv.ParseFloat(v, 64); return })
	parse("RATE_LIMIT_BURST", func(v string) (err error) { cfg.RateLimitBurst, err = strconv.Atoi(v); return })
	parse("MAX_BODY_BYTES", func(v string) (err error) { cfg.MaxBodyBytes, err = strconv.ParseInt(v, 10, 64); return })
	parse("ENABLE_HSTS", func(v string) (err error) { cfg.EnableHSTS, err = strconv.ParseBool(v); return })
	parse("DELETE_ORPHAN_IMAGES", func(v string) (err error) { cfg.DeleteOrphanImages, err = strconv.ParseBool(v); return })
	parse("OBJECT_STORE_USE_SSL", func(v string) (err error) { cfg.ObjectStore.UseSSL, err = strconv.ParseBool(v); return })
	return errors.Join(errs...)
}

// Validate checks what the API server needs to start.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("config: JWT_SECRET is required"))
	}
	errs = append(errs, c.ValidateStore())
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("config: MAX_BODY_BYTES must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if c.ObjectStore.Enabled() {
		errs = append(errs, c.ObjectStore.Validate())
	}
	return errors.Join(errs...)
}

// ValidateStore checks the settings every command that opens the book store needs.
func (c Config) ValidateStore() error {
	var errs []error
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("config: DB_DSN is required"))
	} else if _, err := c.Backend(); err != nil {
		errs = append(errs, err)
	}
	if c.DBTimeout <= 0 {
		errs = append(errs, errors.New("config: DB_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func (o ObjectStore) Validate() error {
	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, errors.New("config: OBJECT_STORE_ENDPOINT is required"))
	}
	if o.Bucket == "" {
		errs = append(errs, errors.New("config: OBJECT_STORE_BUCKET is required"))
	}
	if o.AccessKey == "" || o.SecretKey == "" {
		errs = append(errs, errors.New("config: OBJECT_STORE_ACCESS_KEY and OBJECT_STORE_SECRET_KEY are required"))
	}
	return errors.Join(errs...)
}

// Backend names the store implied by the DSN scheme.
func (c Config) Backend() (string, error) {
	switch {
	case strings.HasPrefix(c.DatabaseDSN, "postgres://"), strings.HasPrefix(c.DatabaseDSN, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(c.DatabaseDSN, "sqlite:"), strings.HasPrefix(c.DatabaseDSN, "file:"):
		return "sqlite", nil
	}
	return "", fmt.Errorf("config: DB_DSN has an unsupported scheme")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
