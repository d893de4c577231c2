package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type Config struct {
	InstagramClientID     string
	InstagramClientSecret string
	InstagramRedirectURI  string
	FacebookAppID         string
	FacebookAppSecret     string
	FacebookRedirectURI   string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	PostgresURI           string
	RedisURI              string
	FrontendURL           string
	R2                    R2
	SecretKey             string
	CronSecret            string
	WeeklyCadence         int
	HorizonDays           int
	MaxPublishAttempts    int
	PostingHour           int
	ExcludeWindowDays     int
	PublishConcurrency    int
	TokenRefreshMargin    time.Duration
	StaleClaimAfter       time.Duration
	PlatformCallTimeout   time.Duration
	CallToAction          string
	RunCronInProcess      bool
}

func LoadConfig() *Config {
	return &Config{
		InstagramClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
		InstagramClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
		InstagramRedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
		FacebookAppID:         getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:     getEnv("FACEBOOK_APP_SECRET", ""),
		FacebookRedirectURI:   getEnv("FACEBOOK_REDIRECT_URI", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", ""),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		SecretKey:           getEnv("SECRET_KEY", ""),
		CronSecret:          getEnv("CRON_SECRET", ""),
		WeeklyCadence:       getEnvInt("WEEKLY_CADENCE", 5),
		HorizonDays:         getEnvInt("HORIZON_DAYS", 7),
		MaxPublishAttempts:  getEnvInt("MAX_PUBLISH_ATTEMPTS", 3),
		PostingHour:         getEnvInt("POSTING_HOUR", 10),
		ExcludeWindowDays:   getEnvInt("EXCLUDE_WINDOW_DAYS", 14),
		PublishConcurrency:  getEnvInt("PUBLISH_CONCURRENCY", 10),
		TokenRefreshMargin:  getEnvDuration("TOKEN_REFRESH_MARGIN", 5*time.Minute),
		StaleClaimAfter:     getEnvDuration("STALE_CLAIM_AFTER", 15*time.Minute),
		PlatformCallTimeout: getEnvDuration("PLATFORM_CALL_TIMEOUT", 30*time.Second),
		CallToAction:        getEnv("CALL_TO_ACTION", "Contact us today for a free quote!"),
		RunCronInProcess:    getEnvBool("RUN_CRON_IN_PROCESS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
