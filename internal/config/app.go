package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig carries process-level configuration: listen address,
// capture device, oracle endpoints and the optional integrations.
// Values come from the environment; the command's flags override them.
type AppConfig struct {
	HTTPAddr string

	Device string
	FPS    int

	OracleURL    string
	OracleScript string
	OraclePython string
	OracleModel  string

	DBPath       string
	SettingsPath string

	AuthUsername string
	AuthPassword string
	JWTSecret    string
	JWTExpiry    time.Duration

	TelegramBotToken    string
	TelegramChatID      string
	TelegramCooldownSec int
	SummaryIntervalMin  int

	Profile string
}

// LoadApp reads configuration from the environment. A .env file in the
// working directory is honored; a missing one is not an error.
func LoadApp() *AppConfig {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] no .env file found, using system environment")
	}

	return &AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		Device:              getEnv("VIDEO_DEVICE", ""),
		FPS:                 getEnvInt("CAPTURE_FPS", 15),
		OracleURL:           getEnv("ORACLE_URL", ""),
		OracleScript:        getEnv("ORACLE_SCRIPT", ""),
		OraclePython:        getEnv("ORACLE_PYTHON", "python3"),
		OracleModel:         getEnv("ORACLE_MODEL", ""),
		DBPath:              getEnv("DB_PATH", "lintas.db"),
		SettingsPath:        getEnv("SETTINGS_PATH", ""),
		AuthUsername:        getEnv("AUTH_USERNAME", "admin"),
		AuthPassword:        getEnv("AUTH_PASSWORD", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTExpiry:           getEnvDuration("JWT_EXPIRY", 0),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:      getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramCooldownSec: getEnvInt("TELEGRAM_COOLDOWN_SECONDS", 30),
		SummaryIntervalMin:  getEnvInt("SUMMARY_INTERVAL_MINUTES", 0),
		Profile:             getEnv("TUNING_PROFILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
