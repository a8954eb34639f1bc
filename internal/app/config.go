package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (LAB_ prefix), a .env file, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (LAB_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper   string `usage:"HMAC pepper for API key hashing (LAB_API_KEY_PEPPER)" flag:"api-key-pepper"`
	MaxImportBytes int64  `default:"10485760" usage:"Largest accepted price sheet upload in bytes" flag:"max-import-bytes"`
	Catalog        CatalogConfig
	Health         HealthConfig
	Graceful       GracefulConfig
}

// CatalogConfig controls the catalog change listener.
type CatalogConfig struct {
	ListenRetry time.Duration `default:"5s" usage:"Delay before re-subscribing to catalog changes" flag:"listen-retry"`
}

// HealthConfig controls background health probing.
type HealthConfig struct {
	Interval           time.Duration `default:"10s" usage:"Health check interval" flag:"interval"`
	GoroutineThreshold int           `default:"10000" usage:"Liveness fails above this many goroutines" flag:"goroutines"`
	PingTimeout        time.Duration `default:"5s" usage:"Database ping timeout for readiness" flag:"ping-timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables,
// YAML config files and command-line flags, then applies platform-specific
// defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return loadConfig(os.Args[1:], "config.yaml", "/etc/labdesk/config.yaml")
}

func loadConfig(args []string, files ...string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "LAB",
		Args:      args,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set LAB_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set LAB_API_KEY_PEPPER")
	}
	if c.MaxImportBytes <= 0 {
		return errors.Errorf("max import bytes must be positive, got %d", c.MaxImportBytes)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the LAB_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
