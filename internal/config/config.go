package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the EventGate server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
	MQTT      MQTTConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type RateLimitConfig struct {
	Backend       string
	PruneInterval time.Duration
}

// AdminConfig holds the process-wide administrative secret. Exactly one of
// Key (plaintext) or KeyBcrypt (bcrypt hash of the secret) must be set.
type AdminConfig struct {
	Key       string
	KeyBcrypt string
}

type MQTTConfig struct {
	Enabled          bool
	Host             string
	Port             int
	Scheme           string
	Path             string
	Username         string
	Password         string
	ClientID         string
	TopicNamespace   string
	QoS              int
	KeepAlive        time.Duration
	ReconnectPeriod  time.Duration
	LivenessInterval time.Duration
	ConnectTimeout   time.Duration
}

// BrokerURL returns the broker address in the form paho expects,
// e.g. wss://broker.example.com:8884/mqtt.
func (c MQTTConfig) BrokerURL() string {
	url := fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
	if c.Scheme == "ws" || c.Scheme == "wss" {
		url += c.Path
	}
	return url
}

// Topic returns the wildcard subscription covering every account and type.
func (c MQTTConfig) Topic() string {
	return c.TopicNamespace + "/+/+"
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether newly stored events are forwarded to Kafka.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

var validRateLimitBackends = map[string]bool{
	"postgres": true,
	"redis":    true,
	"memory":   true,
}

var validMQTTSchemes = map[string]bool{
	"tcp": true,
	"ssl": true,
	"tls": true,
	"ws":  true,
	"wss": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("EVENTGATE_PORT", 8080),
			Env:      envString("EVENTGATE_ENV", "development"),
			LogLevel: envString("LOG_LEVEL", "info"),
		},
		Database: databaseFromEnv(),
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		RateLimit: RateLimitConfig{
			Backend:       envString("RATE_LIMIT_BACKEND", "postgres"),
			PruneInterval: envDuration("RATE_LIMIT_PRUNE_INTERVAL", time.Minute),
		},
		Admin: AdminConfig{
			Key:       os.Getenv("ADMIN_KEY"),
			KeyBcrypt: os.Getenv("ADMIN_KEY_BCRYPT"),
		},
		MQTT: MQTTConfig{
			Enabled:          envBool("MQTT_ENABLED", true),
			Host:             os.Getenv("MQTT_HOST"),
			Port:             envInt("MQTT_PORT", 8884),
			Scheme:           envString("MQTT_SCHEME", "wss"),
			Path:             envString("MQTT_PATH", "/mqtt"),
			Username:         os.Getenv("MQTT_USER"),
			Password:         os.Getenv("MQTT_PASS"),
			ClientID:         envString("MQTT_CLIENT_ID", "eventgate-subscriber"),
			TopicNamespace:   envString("MQTT_TOPIC_NAMESPACE", "eventos"),
			QoS:              envInt("MQTT_QOS", 1),
			KeepAlive:        envDuration("MQTT_KEEPALIVE", 30*time.Second),
			ReconnectPeriod:  envDuration("MQTT_RECONNECT_PERIOD", 5*time.Second),
			LivenessInterval: envDuration("MQTT_LIVENESS_INTERVAL", 30*time.Second),
			ConnectTimeout:   envDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "eventos"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only the database settings, for commands that need
// nothing else such as running migrations.
func LoadDatabase() (DatabaseConfig, error) {
	db := databaseFromEnv()
	if db.URL == "" {
		return db, fmt.Errorf("DATABASE_URL is required")
	}
	return db, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     envBool("DATABASE_AUTO_MIGRATE", false),
		MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !validRateLimitBackends[c.RateLimit.Backend] {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of postgres, redis, memory; got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND is redis")
	}

	if c.Admin.Key == "" && c.Admin.KeyBcrypt == "" {
		return fmt.Errorf("ADMIN_KEY or ADMIN_KEY_BCRYPT is required")
	}
	if c.Admin.Key != "" && c.Admin.KeyBcrypt != "" {
		return fmt.Errorf("only one of ADMIN_KEY and ADMIN_KEY_BCRYPT may be set")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("MQTT_HOST is required when MQTT_ENABLED is true")
		}
		if !validMQTTSchemes[c.MQTT.Scheme] {
			return fmt.Errorf("MQTT_SCHEME must be one of tcp, ssl, tls, ws, wss; got %q", c.MQTT.Scheme)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("MQTT_QOS must be 0, 1 or 2; got %d", c.MQTT.QoS)
		}
		if c.MQTT.TopicNamespace == "" || strings.ContainsAny(c.MQTT.TopicNamespace, "/+#") {
			return fmt.Errorf("MQTT_TOPIC_NAMESPACE must be a single topic level; got %q", c.MQTT.TopicNamespace)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
