package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv               string
	Port                 string
	RedisURL             string
	BackendURL           string
	HTTPTimeout          time.Duration
	LogLevel             string
	LogFormat            string
	ProbeEmptyAsDegraded bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

func Load() (*Config, error) {
	timeoutSecs, err := getEnvInt("HTTP_TIMEOUT_SECONDS", 10)
	if err != nil {
		return nil, err
	}
	if timeoutSecs <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", timeoutSecs)
	}

	emptyAsDegraded, err := getEnvBool("PROBE_EMPTY_AS_DEGRADED", true)
	if err != nil {
		return nil, err
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, err
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8089"),
		RedisURL:             getEnv("REDIS_URL", ""),
		BackendURL:           getEnv("OVH_BACKEND_URL", ""),
		HTTPTimeout:          time.Duration(timeoutSecs) * time.Second,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
		ProbeEmptyAsDegraded: emptyAsDegraded,
		RateLimitRPS:         rps,
		RateLimitBurst:       burst,
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("OVH_BACKEND_URL is required")
	}
	if _, err := url.Parse(cfg.BackendURL); err != nil {
		return nil, fmt.Errorf("OVH_BACKEND_URL is not a valid URL: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
