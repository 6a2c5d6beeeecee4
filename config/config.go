package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	AdminToken        string `mapstructure:"ADMIN_TOKEN"`

	// Ledger store.
	LedgerDriver string `mapstructure:"LEDGER_DRIVER"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`
	MySQLDSN     string `mapstructure:"MYSQL_DSN"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Event bus and push.
	RabbitURL           string `mapstructure:"RABBIT_URL"`
	EventExchange       string `mapstructure:"EVENT_EXCHANGE"`
	FirebaseCredentials string `mapstructure:"FIREBASE_CREDENTIALS"`

	// Booking policy.
	ServiceFeeRate          string `mapstructure:"SERVICE_FEE_RATE"`
	CancellationWindowHours int    `mapstructure:"CANCELLATION_WINDOW_HOURS"`
	BookingTimezone         string `mapstructure:"BOOKING_TIMEZONE"`
	ReminderLeadHours       int    `mapstructure:"REMINDER_LEAD_HOURS"`

	// Payment gateways.
	GatewayTimeout      time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	StripeKey           string        `mapstructure:"STRIPE_KEY"`
	StripeWebhookSecret string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	MpesaBaseURL        string `mapstructure:"MPESA_BASE_URL"`
	MpesaConsumerKey    string `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string `mapstructure:"MPESA_SHORTCODE"`
	MpesaPassKey        string `mapstructure:"MPESA_PASSKEY"`
	MpesaCallbackURL    string `mapstructure:"MPESA_CALLBACK_URL"`

	PaypalClientID string `mapstructure:"PAYPAL_CLIENT_ID"`
	PaypalSecret   string `mapstructure:"PAYPAL_CLIENT_SECRET"`
	PaypalMode     string `mapstructure:"PAYPAL_MODE"`
}

var AppConfig Config

func LoadConfig() {
	// A local .env file is optional; real deployments inject the environment.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("ADMIN_TOKEN", "")
	viper.SetDefault("LEDGER_DRIVER", "mongo")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "guidebook")
	viper.SetDefault("MYSQL_DSN", "")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("RABBIT_URL", "")
	viper.SetDefault("EVENT_EXCHANGE", "guidebook.events")
	viper.SetDefault("FIREBASE_CREDENTIALS", "")
	viper.SetDefault("SERVICE_FEE_RATE", "0.10")
	viper.SetDefault("CANCELLATION_WINDOW_HOURS", 24)
	viper.SetDefault("BOOKING_TIMEZONE", "UTC")
	viper.SetDefault("REMINDER_LEAD_HOURS", 24)
	viper.SetDefault("GATEWAY_TIMEOUT", "15s")
	viper.SetDefault("STRIPE_KEY", "")
	viper.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	viper.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("MPESA_CONSUMER_KEY", "")
	viper.SetDefault("MPESA_CONSUMER_SECRET", "")
	viper.SetDefault("MPESA_SHORTCODE", "")
	viper.SetDefault("MPESA_PASSKEY", "")
	viper.SetDefault("MPESA_CALLBACK_URL", "")
	viper.SetDefault("PAYPAL_CLIENT_ID", "")
	viper.SetDefault("PAYPAL_CLIENT_SECRET", "")
	viper.SetDefault("PAYPAL_MODE", "sandbox")

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// Location resolves BOOKING_TIMEZONE, falling back to UTC.
func Location() *time.Location {
	if AppConfig.BookingTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(AppConfig.BookingTimezone)
	if err != nil {
		log.Printf("invalid BOOKING_TIMEZONE %q, using UTC: %v", AppConfig.BookingTimezone, err)
		return time.UTC
	}
	return loc
}
