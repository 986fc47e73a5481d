package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	InboundSharedSecret string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	RedisAddr           string
	RedisPassword       string
	RelaySMTPHost       string
	RelaySMTPPort       string
	RelaySMTPUsername   string
	RelaySMTPPassword   string
	InboundMXHost       string
	Port                string
	Timezone            string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("RELAY_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("RELAY_ENCRYPTION_KEY_BASE64"),
		InboundSharedSecret: os.Getenv("RELAY_INBOUND_SHARED_SECRET"),
		DBHost:              getEnvOrDefault("RELAY_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("RELAY_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("RELAY_DB_USER", "relay"),
		DBPassword:          os.Getenv("RELAY_DB_PASSWORD"),
		DBName:              getEnvOrDefault("RELAY_DB_NAME", "relay"),
		DBSSLMode:           getEnvOrDefault("RELAY_DB_SSLMODE", "disable"),
		RedisAddr:           getEnvOrDefault("RELAY_REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("RELAY_REDIS_PASSWORD"),
		RelaySMTPHost:       getEnvOrDefault("RELAY_SMTP_HOST", "localhost"),
		RelaySMTPPort:       getEnvOrDefault("RELAY_SMTP_PORT", "587"),
		RelaySMTPUsername:   os.Getenv("RELAY_SMTP_USER"),
		RelaySMTPPassword:   os.Getenv("RELAY_SMTP_PASSWORD"),
		InboundMXHost:       getEnvOrDefault("RELAY_INBOUND_MX_HOST", "mx.relaymail.dev"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("RELAY_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.InboundSharedSecret == "" {
		return fmt.Errorf("RELAY_INBOUND_SHARED_SECRET is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("RELAY_DB_PASSWORD is required")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// GetRelaySMTPAddr returns the host:port of the transfer provider's SMTP
// submission endpoint.
func (c *Config) GetRelaySMTPAddr() string {
	return c.RelaySMTPHost + ":" + c.RelaySMTPPort
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
