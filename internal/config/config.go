package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	APIToken            string
	DataDir             string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string

	// OAuth client credentials for token refresh. Only required when OAuth
	// accounts are in use; password-only deployments may leave them empty.
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:           env,
		EncryptionKeyBase64:   os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		APIToken:              os.Getenv("MAILSYNC_API_TOKEN"),
		DataDir:               getEnvOrDefault("MAILSYNC_DATA_DIR", "./data"),
		DBHost:                getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:                getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:            getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:            os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:                getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:             getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                  getEnvOrDefault("PORT", "8080"),
		Timezone:              getEnvOrDefault("TZ", "UTC"),
		GoogleClientID:        os.Getenv("MAILSYNC_GOOGLE_CLIENT_ID"),
		GoogleClientSecret:    os.Getenv("MAILSYNC_GOOGLE_CLIENT_SECRET"),
		MicrosoftClientID:     os.Getenv("MAILSYNC_MICROSOFT_CLIENT_ID"),
		MicrosoftClientSecret: os.Getenv("MAILSYNC_MICROSOFT_CLIENT_SECRET"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.APIToken == "" {
		return fmt.Errorf("MAILSYNC_API_TOKEN is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if !isValidPort(c.DBPort) {
		return fmt.Errorf("MAILSYNC_DB_PORT is not a valid port number: %q", c.DBPort)
	}

	if !isValidPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	return nil
}

// GetDatabaseURL builds the Postgres connection URL. Username and password are
// URL-escaped so credentials with reserved characters survive parsing.
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.DBUsername),
		url.QueryEscape(c.DBPassword),
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
