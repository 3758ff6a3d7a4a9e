package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"phishgrid/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ReportMailboxConfig drives the IMAP watcher that turns user-reported
// phishing mails into report events.
type ReportMailboxConfig struct {
	Enabled        bool          `json:"enabled"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Username       string        `json:"username"`
	Password       string        `json:"-"`
	Folder         string        `json:"folder"`
	RestrictDomain string        `json:"restrict_domain"`
	DeleteReported bool          `json:"delete_reported"`
	PollInterval   time.Duration `json:"poll_interval"`
}

type Config struct {
	Environment           string              `json:"environment"`
	ServerPort            string              `json:"server_port"`
	EncryptionKey         string              `json:"-"`
	APIKey                string              `json:"-"`
	TrackingBaseURL       string              `json:"tracking_base_url"`
	TemplatesURI          string              `json:"templates_uri"`
	ReportCallbackURI     string              `json:"report_callback_uri"`
	CollaboratorTimeout   time.Duration       `json:"collaborator_timeout"`
	TrustTokenTTL         time.Duration       `json:"trust_token_ttl"`
	DispatchMaxConcurrent int                 `json:"dispatch_max_concurrent"`
	RateLimitTracking     int                 `json:"rate_limit_tracking"`
	SentryDSN             string              `json:"-"`
	DBHost                string              `json:"db_host"`
	DBPort                string              `json:"db_port"`
	DBUser                string              `json:"db_user"`
	DBPassword            string              `json:"-"`
	DBName                string              `json:"db_name"`
	DBSSLMode             string              `json:"db_ssl_mode"`
	DBMaxIdleConns        int                 `json:"db_max_idle_conns"`
	DBMaxOpenConns        int                 `json:"db_max_open_conns"`
	Redis                 RedisConfig         `json:"redis"`
	ReportMailbox         ReportMailboxConfig `json:"report_mailbox"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:           getEnv("ENVIRONMENT", "development"),
		ServerPort:            getEnv("SERVER_PORT", "60502"),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		APIKey:                getEnv("API_KEY", ""),
		TrackingBaseURL:       getEnv("TRACKING_BASE_URL", ""),
		TemplatesURI:          getEnv("TEMPLATES_URI", ""),
		ReportCallbackURI:     getEnv("REPORT_CALLBACK_URI", ""),
		CollaboratorTimeout:   getEnvAsDuration("COLLABORATOR_TIMEOUT", 10*time.Second),
		TrustTokenTTL:         getEnvAsDuration("TRUST_TOKEN_TTL", 3*time.Minute),
		DispatchMaxConcurrent: getEnvAsInt("DISPATCH_MAX_CONCURRENT", 4),
		RateLimitTracking:     getEnvAsInt("RATE_LIMIT_TRACKING", 120),
		SentryDSN:             getEnv("SENTRY_DSN", ""),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "postgres"),
		DBPassword:            getEnv("DB_PASSWORD", ""),
		DBName:                getEnv("DB_NAME", "phishgrid"),
		DBSSLMode:             getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns:        getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns:        getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		ReportMailbox: ReportMailboxConfig{
			Enabled:        getEnvAsBool("REPORT_MAILBOX_ENABLED", false),
			Host:           getEnv("REPORT_MAILBOX_HOST", ""),
			Port:           getEnvAsInt("REPORT_MAILBOX_PORT", 993),
			Username:       getEnv("REPORT_MAILBOX_USERNAME", ""),
			Password:       getEnv("REPORT_MAILBOX_PASSWORD", ""),
			Folder:         getEnv("REPORT_MAILBOX_FOLDER", "INBOX"),
			RestrictDomain: getEnv("REPORT_MAILBOX_RESTRICT_DOMAIN", ""),
			DeleteReported: getEnvAsBool("REPORT_MAILBOX_DELETE_REPORTED", false),
			PollInterval:   getEnvAsDuration("REPORT_MAILBOX_POLL_INTERVAL", 5*time.Minute),
		},
	}

	// Validate required configurations
	if AppConfig.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(AppConfig.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(AppConfig.EncryptionKey))
	}
	if AppConfig.TrackingBaseURL == "" {
		return fmt.Errorf("TRACKING_BASE_URL is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.TemplatesURI == "" {
			return fmt.Errorf("TEMPLATES_URI is required in production")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	switch valueStr {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Tracking Base URL: %s", AppConfig.TrackingBaseURL)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Collaborators: templates(%t), report-callback(%t), report-mailbox(%t)",
		AppConfig.TemplatesURI != "",
		AppConfig.ReportCallbackURI != "",
		AppConfig.ReportMailbox.Enabled)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Event{},
		&models.PhishsiteWorker{},
	)
}
