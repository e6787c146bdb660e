package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaptiv/sequencer/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

// OAuthConfig holds the mail provider's OAuth2 client credentials used by
// the grant exchanger (§4.H).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// Config mirrors the environment inputs listed in spec §6.
type Config struct {
	Environment string

	Google OAuthConfig

	KaptivAPIKey  string
	WorkerSecret  string
	FrontendReturn string
	EmailFrom     string
	EncryptionKey string

	JobBatchSize    int
	DefaultTimezone string
	DailySendCap    int

	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxIdleConns int
	DBMaxOpenConns int

	ServerPort string

	Redis RedisConfig
}

func init() {
	_ = godotenv.Load()
	envLoaded = true
}

// LoadConfig populates AppConfig from the environment, matching the
// getEnv/getEnvAsInt helper pattern used throughout this repository.
func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("REDIRECT_URI", ""),
		},

		KaptivAPIKey:   getEnv("KAPTIV_API_KEY", ""),
		WorkerSecret:   getEnv("WORKER_SECRET", ""),
		FrontendReturn: getEnv("FRONTEND_RETURN", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),

		JobBatchSize:    getEnvAsInt("JOB_BATCH_SIZE", 20),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "Asia/Singapore"),
		DailySendCap:    getEnvAsInt("DAILY_SEND_CAP", 0),

		DBHost:         getEnv("DB_HOST", getEnv("SUPABASE_DB_HOST", "localhost")),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "sequencer"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		ServerPort: getEnv("SERVER_PORT", "5000"),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ADDRESS", "") != "",
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if AppConfig.KaptivAPIKey == "" {
		return fmt.Errorf("KAPTIV_API_KEY is required")
	}
	if AppConfig.WorkerSecret == "" {
		return fmt.Errorf("WORKER_SECRET is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.Google.ClientID == "" || AppConfig.Google.ClientSecret == "" {
			return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required in production")
		}
	}

	logConfig()
	return nil
}

// ConnectDB opens the Postgres connection and runs AutoMigrate. Persistence
// is logically a relational store per spec §1 — Postgres via lib/pgx is the
// concrete engine this implementation picks, but nothing downstream of
// *gorm.DB assumes Postgres-specific semantics beyond SKIP LOCKED.
func ConnectDB() error {
	log.Println("connecting to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBUser,
		AppConfig.DBPassword, AppConfig.DBName, AppConfig.DBSSLMode,
	)
	log.Println("using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get db instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("connected, running migrations...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("migrations complete")
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const marker = "password="
	start := strings.Index(dsn, marker)
	if start == -1 {
		return dsn
	}
	start += len(marker)
	end := strings.IndexAny(dsn[start:], " ")
	if end == -1 {
		return dsn[:start] + "*****"
	}
	return dsn[:start] + "*****" + dsn[start+end:]
}

func logConfig() {
	log.Println("loaded configuration:")
	log.Printf("environment: %s", AppConfig.Environment)
	log.Printf("server port: %s", AppConfig.ServerPort)
	log.Printf("database: %s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName)
	log.Printf("google oauth configured: %t", AppConfig.Google.ClientID != "")
	log.Printf("job batch size: %d", AppConfig.JobBatchSize)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Credential{},
		&models.OAuthState{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceRecipient{},
		&models.Run{},
		&models.Job{},
		&models.EmailEvent{},
	)
}
