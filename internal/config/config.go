package config

import (
	"os"      // For environment variables
	"strconv" // For string to number conversion
	"strings" // For trimming values
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort     string // Application port
	IsProd      bool   // Is production environment
	LogLevel    string // logrus level name
	StoreDriver string // mysql, postgres or memory

	DBUser         string // Database user
	DBPassword     string // Database password
	DBHost         string // Database host
	DBPort         string // Database port
	DBName         string // Database name
	DBSSLMode      string // Postgres sslmode
	DBMaxOpenConns int    // Connection pool size
	DBMaxIdleConns int    // Idle connections kept

	JWTSecret string // JWT secret key
	RedisAddr string // Redis server address, empty disables Redis
	RedisPass string // Redis password
	RedisDB   int    // Redis database number

	SettlementCurrency     string        // The single wallet currency
	PrimaryGateway         string        // Gateway whose payouts may draw on both reserves
	SecondaryGateway       string        // Second reserve
	MultiSourcePayouts     bool          // Enables the multi-source allocator
	PayoutTimeout          time.Duration // Deadline for one payout submission
	PendingResolveInterval time.Duration // How often pending payouts are re-checked
	PendingMinAge          time.Duration // Pending entries younger than this are left alone
	ReconcileClaimTTL      time.Duration // Lifetime of a reconciliation claim
	ReadRetryAttempts      int           // Ledger read attempts before StorageUnavailable

	RateLimitRPS   float64 // Requests per second per client IP
	RateLimitBurst int     // Burst per client IP

	SandboxGateways bool   // Registers in-process gateways instead of live ones
	SandboxSecret   string // Webhook signature expected from sandbox gateways

	PayPalClientID      string // PayPal REST client id
	PayPalSecret        string // PayPal REST secret
	PayPalEnv           string // sandbox or live
	PayPalWebhookID     string // Webhook id used for signature verification
	PayPalReturnURL     string // Payer redirect after approval
	PayPalCancelURL     string // Payer redirect after cancel
	PayPalReportWindows int    // 31-day windows summed by the balance fallback

	MidtransServerKey string // Snap and Core API key
	MidtransIrisKey   string // Iris payout key
	MidtransEnv       string // sandbox or production
	MidtransCurrency  string // Currency the Midtrans account holds

	FirebaseCredentials string // Service account file for FCM alerts, empty disables FCM
	AlertTopic          string // FCM topic operators subscribe to
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	return &Config{
		AppPort:     getEnv("APP_PORT", "8080"),      // Application port
		IsProd:      getEnvAsBool("IS_PROD", false),  // Is production environment
		LogLevel:    getEnv("LOG_LEVEL", "info"),     // Log level
		StoreDriver: getEnv("STORE_DRIVER", "mysql"), // Storage backend

		DBUser:         getEnv("DB_USER", "root"),            // Database user
		DBPassword:     getEnv("DB_PASSWORD", ""),            // Database password
		DBHost:         getEnv("DB_HOST", "127.0.0.1"),       // Database host
		DBPort:         getEnv("DB_PORT", "3306"),            // Database port
		DBName:         getEnv("DB_NAME", "wallet"),          // Database name
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),      // Postgres sslmode
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25), // Pool size
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),  // Idle connections

		JWTSecret: getEnv("JWT_SECRET", ""),   // JWT secret key
		RedisAddr: getEnv("REDIS_ADDR", ""),   // Redis server address
		RedisPass: getEnv("REDIS_PASS", ""),   // Redis password
		RedisDB:   getEnvAsInt("REDIS_DB", 0), // Redis database number

		SettlementCurrency:     strings.ToUpper(getEnv("SETTLEMENT_CURRENCY", "USD")),     // Wallet currency
		PrimaryGateway:         getEnv("PRIMARY_GATEWAY", "paypal"),                       // Gateway A
		SecondaryGateway:       getEnv("SECONDARY_GATEWAY", "midtrans"),                   // Gateway B
		MultiSourcePayouts:     getEnvAsBool("MULTI_SOURCE_PAYOUTS", true),                // Allocator on or off
		PayoutTimeout:          getEnvAsDuration("PAYOUT_TIMEOUT", 30*time.Second),        // Payout deadline
		PendingResolveInterval: getEnvAsDuration("PENDING_RESOLVE_INTERVAL", time.Minute), // Resolver period
		PendingMinAge:          getEnvAsDuration("PENDING_MIN_AGE", 5*time.Minute),        // Resolver grace period
		ReconcileClaimTTL:      getEnvAsDuration("RECONCILE_CLAIM_TTL", 30*time.Second),   // Claim lifetime
		ReadRetryAttempts:      getEnvAsInt("READ_RETRY_ATTEMPTS", 3),                     // Ledger read retries

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),  // Requests per second
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10), // Burst

		SandboxGateways: getEnvAsBool("SANDBOX_GATEWAYS", false), // In-process gateways
		SandboxSecret:   getEnv("SANDBOX_WEBHOOK_SECRET", ""),    // Sandbox webhook signature

		PayPalClientID:      getEnv("PAYPAL_CLIENT_ID", ""),          // PayPal client id
		PayPalSecret:        getEnv("PAYPAL_SECRET", ""),             // PayPal secret
		PayPalEnv:           getEnv("PAYPAL_ENV", "sandbox"),         // PayPal environment
		PayPalWebhookID:     getEnv("PAYPAL_WEBHOOK_ID", ""),         // PayPal webhook id
		PayPalReturnURL:     getEnv("PAYPAL_RETURN_URL", ""),         // Approval redirect
		PayPalCancelURL:     getEnv("PAYPAL_CANCEL_URL", ""),         // Cancel redirect
		PayPalReportWindows: getEnvAsInt("PAYPAL_REPORT_WINDOWS", 3), // Balance fallback windows

		MidtransServerKey: getEnv("MIDTRANS_SERVER_KEY", ""),  // Midtrans server key
		MidtransIrisKey:   getEnv("MIDTRANS_IRIS_KEY", ""),    // Midtrans Iris key
		MidtransEnv:       getEnv("MIDTRANS_ENV", "sandbox"),  // Midtrans environment
		MidtransCurrency:  getEnv("MIDTRANS_CURRENCY", "IDR"), // Midtrans account currency

		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),     // FCM service account
		AlertTopic:          getEnv("ALERT_TOPIC", "wallet-alerts"), // FCM topic
	}
}

// getEnv returns the variable or fallback when it is unset or blank
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback // Unset or malformed
	}
	return n
}

func getEnvAsFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

// getEnvAsDuration accepts Go duration strings such as "30s" or "5m"
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
