package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"            // godotenv loads a local .env file into the environment
	"github.com/kelseyhightower/envconfig" // envconfig maps environment variables onto the Config struct
)

// DefaultStoreURI is used when neither STORE_URI nor MONGO_URI is set.
const DefaultStoreURI = "mongodb://localhost:27017/synergia"

// Config holds all runtime configuration values.  Only Port and StoreURI are
// needed to serve the API; the remaining sections switch optional
// infrastructure on.
type Config struct {
	Env          string        `envconfig:"APP_ENV" default:"dev"`            // application environment (e.g. "dev", "prod")
	Port         string        `envconfig:"PORT" default:"3000"`              // HTTP port to listen on
	StoreURI     string        `envconfig:"STORE_URI"`                        // store connection string (mongodb://, mongodb+srv:// or mysql://)
	MongoURI     string        `envconfig:"MONGO_URI"`                        // legacy name for the store connection string
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`       // per-request deadline for store calls
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`         // debug, info, warn or error
	CORSOrigins  []string      `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`   // comma separated allowed origins

	Cache CacheConfig
	Redis RedisConfig
	Queue QueueConfig
}

// QueueConfig configures publishing of booking lifecycle events and the
// optional consumer that writes them to a log file.
type QueueConfig struct {
	URL             string `envconfig:"RABBITMQ_URL"`                        // broker URL; empty disables events
	LegacyURL       string `envconfig:"AMQP_URL"`                            // fallback for URL
	Exchange        string `envconfig:"BOOKING_EXCHANGE" default:"bookings"` // topic exchange name
	ConsumerEnabled bool   `envconfig:"BOOKING_CONSUMER_ENABLED" default:"false"`
	LogDir          string `envconfig:"BOOKING_LOG_DIR" default:"logs"`
}

// Load reads an optional .env file and then the process environment.  A
// missing .env file is not an error; malformed values are.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Port == "" {
		c.Port = "3000"
	}
	if c.StoreURI == "" {
		c.StoreURI = c.MongoURI
	}
	if c.StoreURI == "" {
		c.StoreURI = DefaultStoreURI
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Queue.URL == "" {
		c.Queue.URL = c.Queue.LegacyURL
	}
	c.Cache.normalize()
	c.Redis.normalize()
}
