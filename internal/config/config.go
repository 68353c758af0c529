package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string

	NatsHost string
	NatsPort string

	ApiPort    string
	ApiEnabled string

	JWTSecret string

	InferenceURL   string
	InferenceToken string
	// WebhookBaseURL is the public base the inference provider calls back on.
	WebhookBaseURL string

	// SignupGrant is the free credit balance a user starts with.
	SignupGrant int64

	ReapInterval time.Duration
	ReapMaxAge   time.Duration
}

// New loads and validates configuration from environment variables.
// The HTTP server is optional: if DREAMMOTION_API_ENABLED != "true",
// ApiAddr() returns an error and the server simply won't start.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:         os.Getenv("DREAMMOTION_POSTGRES_USER"),
		DBPass:         os.Getenv("DREAMMOTION_POSTGRES_PASSWORD"),
		DBHost:         os.Getenv("DREAMMOTION_POSTGRES_HOST"),
		DBPort:         os.Getenv("DREAMMOTION_POSTGRES_PORT"),
		DBName:         os.Getenv("DREAMMOTION_POSTGRES_DB"),
		SSLMode:        os.Getenv("DREAMMOTION_POSTGRES_SSLMODE"),
		RedisHost:      os.Getenv("DREAMMOTION_REDIS_HOST"),
		RedisPort:      os.Getenv("DREAMMOTION_REDIS_PORT"),
		NatsHost:       os.Getenv("DREAMMOTION_NATS_HOST"),
		NatsPort:       os.Getenv("DREAMMOTION_NATS_PORT"),
		ApiPort:        os.Getenv("DREAMMOTION_API_PORT"),
		ApiEnabled:     os.Getenv("DREAMMOTION_API_ENABLED"),
		JWTSecret:      os.Getenv("DREAMMOTION_JWT_SECRET"),
		InferenceURL:   os.Getenv("DREAMMOTION_INFERENCE_URL"),
		InferenceToken: os.Getenv("DREAMMOTION_INFERENCE_TOKEN"),
		WebhookBaseURL: os.Getenv("DREAMMOTION_WEBHOOK_BASE_URL"),
		SignupGrant:    getEnvInt64("DREAMMOTION_SIGNUP_GRANT", 20),
		ReapInterval:   getEnvDuration("DREAMMOTION_REAP_INTERVAL", time.Minute),
		ReapMaxAge:     getEnvDuration("DREAMMOTION_REAP_MAX_AGE", 15*time.Minute),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: DREAMMOTION_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: DREAMMOTION_REDIS_HOST/PORT")
	}

	// Required: nats
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: DREAMMOTION_NATS_HOST/PORT")
	}

	// Required: auth + inference provider
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing required env: DREAMMOTION_JWT_SECRET")
	}
	if cfg.InferenceURL == "" || cfg.InferenceToken == "" {
		return nil, fmt.Errorf("missing required env for inference provider: DREAMMOTION_INFERENCE_URL/TOKEN")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("DREAMMOTION_API_PORT is required when DREAMMOTION_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (DREAMMOTION_API_ENABLED != true)")
}

// InferenceWebhookURL is the callback endpoint passed to the provider on job
// creation. Empty when no public base is configured; the reaper still covers
// job completion in that case.
func (c *Config) InferenceWebhookURL() string {
	if c.WebhookBaseURL == "" {
		return ""
	}
	return c.WebhookBaseURL + "/webhooks/inference"
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
