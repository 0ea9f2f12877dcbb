package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AllowedOrigins           []string
	DatabaseURL              string
	DatabaseAutoMigrate      bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	AnalyticsCacheTTLSeconds int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	LogLevel                 string
	LogFormat                string
	PublicBaseURL            string
	BootstrapAdminUsername   string
	BootstrapAdminPassword   string
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, err := strconv.Atoi(getEnv("ANALYTICS_CACHE_TTL_SECONDS", "60"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	autoMigrate, err := strconv.ParseBool(getEnv("DATABASE_AUTO_MIGRATE", "true"))
	if err != nil {
		autoMigrate = true
	}
	port := getEnv("PORT", "8080")

	cfg := Config{
		Port:                     port,
		AllowedOrigins:           splitList(getEnv("ALLOWED_ORIGINS", "http://127.0.0.1:3000")),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		DatabaseAutoMigrate:      autoMigrate,
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		AnalyticsCacheTTLSeconds: cacheTTL,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "console")),
		PublicBaseURL:            strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://127.0.0.1:"+port), "/"),
		BootstrapAdminUsername:   strings.ToLower(getEnv("BOOTSTRAP_ADMIN_USERNAME", "admin")),
		BootstrapAdminPassword:   os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
