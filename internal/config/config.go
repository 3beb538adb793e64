package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/storesync/internal/storage"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Shopify    ShopifyConfig    `mapstructure:"shopify"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
	// EmbeddedWorkers runs queue workers inside the API process.
	EmbeddedWorkers bool `mapstructure:"embedded_workers"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects between sqlite (Path) and postgres (URL or discrete fields).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver != "postgres" {
		return c.Path
	}
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.DBName,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueConfig configures the durable work queue. Backend is "sql" or "redis".
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"`
	Name              string        `mapstructure:"name"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ExtractionConfig struct {
	ProductPageSize     int  `mapstructure:"product_page_size"`
	MinConfidence       int  `mapstructure:"min_confidence"`
	ArchiveSnapshots    bool `mapstructure:"archive_snapshots"`
	CaptureShippingZone bool `mapstructure:"capture_shipping_zones"`
}

type DetectorConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type ShopifyConfig struct {
	APIVersion string        `mapstructure:"api_version"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// GetStorageConfig maps the storage section onto the S3 client configuration.
func (c *Config) GetStorageConfig() *storage.S3Config {
	return &storage.S3Config{
		Type:      storage.StorageType(c.Storage.Type),
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		UseSSL:    c.Storage.UseSSL,
		Bucket:    c.Storage.Bucket,
		Region:    c.Storage.Region,
		PublicURL: c.Storage.PublicURL,
	}
}

// Load reads configuration from configPath (or ./configs/config.yaml), then
// .env and the process environment. Environment keys replace "." with "_",
// so queue.backend is QUEUE_BACKEND.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and platform-provided settings use conventional names.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "S3_BUCKET")
	_ = v.BindEnv("server.port", "PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.embedded_workers", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/storesync.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "storesync")
	v.SetDefault("database.dbname", "storesync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "storesync")

	v.SetDefault("queue.backend", "sql")
	v.SetDefault("queue.name", "store-extraction")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", 2*time.Second)
	v.SetDefault("queue.visibility_timeout", 15*time.Minute)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.heartbeat", 5*time.Minute)

	v.SetDefault("worker.concurrency", 2)

	v.SetDefault("extraction.product_page_size", 250)
	v.SetDefault("extraction.min_confidence", 50)
	v.SetDefault("extraction.archive_snapshots", false)
	v.SetDefault("extraction.capture_shipping_zones", true)

	v.SetDefault("detector.timeout", 10*time.Second)
	v.SetDefault("detector.user_agent", "Mozilla/5.0 (compatible; storesync/1.0; +https://storesync.dev/bot)")
	v.SetDefault("detector.max_body_bytes", 2<<20)

	v.SetDefault("shopify.api_version", "2024-01")
	v.SetDefault("shopify.timeout", 30*time.Second)
	v.SetDefault("shopify.rate_limit", 2.0)
	v.SetDefault("shopify.rate_burst", 4)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "storesync")
	v.SetDefault("storage.prefix", "snapshots")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "storesync")
}

// Validate rejects configurations no component can run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	switch c.Queue.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("queue.backend: unsupported backend %q", c.Queue.Backend)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts: must be at least 1")
	}
	if c.Queue.Heartbeat >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("queue.heartbeat: must be shorter than queue.visibility_timeout")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency: must be at least 1")
	}
	if c.Extraction.ProductPageSize < 1 || c.Extraction.ProductPageSize > 250 {
		return fmt.Errorf("extraction.product_page_size: must be between 1 and 250")
	}
	return nil
}
