package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration loaded from environment variables.
type Config struct {
	SourceURL string
	ChromeBin string
	MaxPages  int

	MarketplaceBaseURL string
	MarketplaceToken   string

	StateBackend string // "file" or "postgres"
	StateDir     string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	ImageDir      string
	ImageBaseURL  string
	ImageMaxWidth int
	ImageQuality  int

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	StalenessHours int

	TaxRate float64

	// Enrichment fallbacks applied when a source field is missing. These are
	// configurable constants, not inferred business rules.
	DefaultDiscountPct float64
	DefaultResidualPct float64
	DefaultTermMonths  int
	DefaultPayment     float64

	AcquisitionFee   float64
	DocumentationFee float64
	DispositionFee   float64
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		SourceURL: getEnv("SOURCE_URL", "https://www.example-dealer.com/lease-specials"),
		ChromeBin: getEnv("CHROME_BIN", ""),
		MaxPages:  getEnvInt("MAX_PAGES", 3),

		MarketplaceBaseURL: getEnv("MARKETPLACE_BASE_URL", "http://localhost:8080"),
		MarketplaceToken:   getEnv("MARKETPLACE_TOKEN", ""),

		StateBackend: getEnv("STATE_BACKEND", "file"),
		StateDir:     getEnv("STATE_DIR", "./state"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "leasesync"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "leasesync123"),
		PostgresDB:       getEnv("POSTGRES_DB", "lease_sync"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		ImageDir:      getEnv("IMAGE_DIR", "./output/images"),
		ImageBaseURL:  getEnv("IMAGE_BASE_URL", "/images"),
		ImageMaxWidth: getEnvInt("IMAGE_MAX_WIDTH", 1280),
		ImageQuality:  getEnvInt("IMAGE_QUALITY", 80),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 500),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		StalenessHours: getEnvInt("STALENESS_HOURS", 24),

		TaxRate: getEnvFloat("TAX_RATE", 0.0925),

		DefaultDiscountPct: getEnvFloat("DEFAULT_DISCOUNT_PCT", 0.05),
		DefaultResidualPct: getEnvFloat("DEFAULT_RESIDUAL_PCT", 0.60),
		DefaultTermMonths:  getEnvInt("DEFAULT_TERM_MONTHS", 36),
		DefaultPayment:     getEnvFloat("DEFAULT_PAYMENT", 399),

		AcquisitionFee:   getEnvFloat("ACQUISITION_FEE", 895),
		DocumentationFee: getEnvFloat("DOCUMENTATION_FEE", 85),
		DispositionFee:   getEnvFloat("DISPOSITION_FEE", 395),
	}
}

// DSN returns the PostgreSQL connection string for the state store.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
