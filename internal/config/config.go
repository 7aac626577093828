package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config holds all configuration for the notification engine
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	API       APIConfig       `mapstructure:"api"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka configuration for the scheduled-notification topic
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DefaultsConfig holds the engine-wide delivery defaults
type DefaultsConfig struct {
	Channels       []string `mapstructure:"channels"`
	ExpirationDays int      `mapstructure:"expiration_days"`
}

// LimitsConfig holds operation limits
type LimitsConfig struct {
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

// ProvidersConfig holds per-channel provider configuration
type ProvidersConfig struct {
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// SendGridConfig holds SendGrid email configuration
type SendGridConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// FirebaseConfig holds Firebase push notification configuration
type FirebaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsPath string `mapstructure:"credentials_path"`
}

// WebhookConfig holds outbound webhook configuration
type WebhookConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	SigningSecret  string `mapstructure:"signing_secret"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChatConfig holds team-chat webhook configuration
type ChatConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// MetricsConfig holds monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	setDefaults()

	// Read from environment variables
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Println("Config file not found, using environment variables and defaults")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.database", "notifications")
	viper.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "scheduled-notifications")

	// API defaults
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)

	// Engine defaults
	viper.SetDefault("defaults.channels", []string{"in_app"})
	viper.SetDefault("defaults.expiration_days", 30)
	viper.SetDefault("limits.max_batch_size", 100)

	// Provider defaults
	viper.SetDefault("providers.sendgrid.enabled", false)
	viper.SetDefault("providers.sendgrid.from_email", "noreply@example.com")
	viper.SetDefault("providers.sendgrid.from_name", "Notifications")
	viper.SetDefault("providers.firebase.enabled", false)
	viper.SetDefault("providers.webhook.enabled", true)
	viper.SetDefault("providers.webhook.timeout_seconds", 10)
	viper.SetDefault("providers.chat.enabled", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9091)
	viper.SetDefault("metrics.path", "/metrics")

	// Map environment variables
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.database", "DB_NAME")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("providers.sendgrid.api_key", "SENDGRID_API_KEY")
	viper.BindEnv("providers.firebase.credentials_path", "FIREBASE_CREDENTIALS_PATH")
	viper.BindEnv("providers.webhook.signing_secret", "WEBHOOK_SIGNING_SECRET")
	viper.BindEnv("providers.chat.webhook_url", "CHAT_WEBHOOK_URL")
}
