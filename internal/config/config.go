package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	// Payment provider configuration
	ProviderAPIURL     string
	ProviderMainnetKey string
	ProviderTestnetKey string
	Network            string

	// Wallet configuration
	LowBalanceThreshold decimal.Decimal

	// SMTP configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string
	OpsEmail     string

	// Telegram ops alerts configuration
	TelegramBotToken string
	OpsTelegramChat  string
}

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// ProviderAPIKey returns the provider API key for the configured network.
func (c *Config) ProviderAPIKey() string {
	if c.Network == NetworkMainnet {
		return c.ProviderMainnetKey
	}
	return c.ProviderTestnetKey
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:         getEnvAsBool("DEVELOPMENT", false),
		PostgresUser:        getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:    getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:        getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:        getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:          getEnv("POSTGRES_DB", "walletcore"),
		ProviderAPIURL:      getEnv("PROVIDER_API_URL", "https://api.minepi.com/v2"),
		ProviderMainnetKey:  getEnv("PROVIDER_MAINNET_KEY", ""),
		ProviderTestnetKey:  getEnv("PROVIDER_TESTNET_KEY", ""),
		Network:             getEnv("NETWORK", NetworkTestnet),
		LowBalanceThreshold: getEnvAsDecimal("LOW_BALANCE_THRESHOLD", decimal.NewFromInt(1)),
		SMTPHost:            getEnv("SMTP_HOST", "smtp.example.com"),
		SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:            getEnv("SMTP_USER", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SMTPSender:          getEnv("SMTP_SENDER", ""),
		OpsEmail:            getEnv("OPS_EMAIL", ""),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		OpsTelegramChat:     getEnv("OPS_TELEGRAM_CHAT", ""),

		APIPort: getEnvAsInt("API_PORT", 6542),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.Network != NetworkMainnet && c.Network != NetworkTestnet {
		return fmt.Errorf("NETWORK must be %q or %q, got %q", NetworkMainnet, NetworkTestnet, c.Network)
	}

	if c.ProviderAPIURL == "" {
		return fmt.Errorf("PROVIDER_API_URL is required")
	}

	if c.ProviderAPIKey() == "" {
		return fmt.Errorf("provider API key for network %q is required", c.Network)
	}

	if c.LowBalanceThreshold.IsNegative() {
		return fmt.Errorf("LOW_BALANCE_THRESHOLD must not be negative")
	}

	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDecimal(name string, defaultValue decimal.Decimal) decimal.Decimal {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := decimal.NewFromString(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
