package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the service configuration read from the environment. Risk
// limits and guard thresholds live in the YAML risk file (see RiskFile).
type Config struct {
	Environment string
	LogLevel    string
	LogDir      string
	LogStdout   bool

	RiskFile    string
	JournalPath string

	HTTP struct {
		Addr string
	}

	Bybit struct {
		Enabled   bool
		BaseURL   string
		APIKey    string
		APISecret string
		Category  string
		CacheTTL  time.Duration
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string

		SMTPHost     string
		SMTPPort     int
		SMTPUser     string
		SMTPPassword string
		EmailFrom    string
		EmailTo      []string

		// token bucket for alert delivery
		MaxBurst    int
		RefillEvery time.Duration
	}
}

// Load builds the service configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Environment: getEnv("DIA_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogDir:      getEnv("DIA_LOG_DIR", "logs"),
		LogStdout:   getEnvBool("DIA_LOG_STDOUT", true),
		RiskFile:    getEnv("DIA_RISK_FILE", "config/risk_limits.yaml"),
		JournalPath: getEnv("DIA_JOURNAL_PATH", "data/journal.db"),
	}

	cfg.HTTP.Addr = getEnv("DIA_HTTP_ADDR", "127.0.0.1:9108")

	cfg.Bybit.Enabled = getEnvBool("BYBIT_INSTRUMENTS_ENABLED", false)
	cfg.Bybit.BaseURL = getEnv("BYBIT_BASE_URL", "https://api.bybit.com")
	cfg.Bybit.APIKey = getEnv("BYBIT_API_KEY", "")
	cfg.Bybit.APISecret = getEnv("BYBIT_API_SECRET", "")
	cfg.Bybit.Category = getEnv("BYBIT_CATEGORY", "spot")
	cfg.Bybit.CacheTTL = getEnvDuration("BYBIT_INSTRUMENT_CACHE_TTL", time.Hour)

	cfg.Notifications.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	cfg.Notifications.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.Notifications.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.Notifications.SMTPUser = getEnv("SMTP_USER", "")
	cfg.Notifications.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.Notifications.EmailFrom = getEnv("ALERT_EMAIL_FROM", "")
	cfg.Notifications.EmailTo = getEnvList("ALERT_EMAIL_TO")
	cfg.Notifications.MaxBurst = getEnvInt("ALERT_MAX_BURST", 5)
	cfg.Notifications.RefillEvery = getEnvDuration("ALERT_REFILL_EVERY", time.Minute)

	return cfg
}

// Validate checks the service settings that have no safe default
func (c *Config) Validate() error {
	var problems []string
	if c.RiskFile == "" {
		problems = append(problems, "DIA_RISK_FILE must be set")
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "DIA_HTTP_ADDR must be set")
	}
	if c.Bybit.Enabled && c.Bybit.CacheTTL <= 0 {
		problems = append(problems, "BYBIT_INSTRUMENT_CACHE_TTL must be positive")
	}
	if c.Notifications.SMTPHost != "" && (c.Notifications.EmailFrom == "" || len(c.Notifications.EmailTo) == 0) {
		problems = append(problems, "ALERT_EMAIL_FROM and ALERT_EMAIL_TO are required when SMTP_HOST is set")
	}
	if len(problems) > 0 {
		return configError("validate_env", strings.Join(problems, "; "))
	}
	return nil
}

// LoadEnvFile loads environment variables from a file
func LoadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
