// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	APNSKeyPath     string
	APNSKeyID       string
	AppleTeamID     string
	APNSTopic       string
	APNSEnvironment string

	DatabasePath string
	Host         string
	Port         int
	APIBaseURL   string
	RelayURL     string
	LogLevel     string

	NotifiableKinds     []int
	DispatchConcurrency int
	MuteListTTL         time.Duration
	SendTimeout         time.Duration
	RelayFetchTimeout   time.Duration
	EventMaxAge         time.Duration
	CacheCapacity       int
}

// Load reads configuration from the environment. An .env file in the
// working directory, when present, supplies variables that are not
// already set; variables already in the environment take precedence.
func Load() (*Config, error) {
	// Absence of an .env file is fine; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	keyPath := os.Getenv("APNS_AUTH_PRIVATE_KEY_FILE_PATH")
	if keyPath == "" {
		return nil, fmt.Errorf("APNS_AUTH_PRIVATE_KEY_FILE_PATH is required")
	}
	keyID := os.Getenv("APNS_AUTH_PRIVATE_KEY_ID")
	if keyID == "" {
		return nil, fmt.Errorf("APNS_AUTH_PRIVATE_KEY_ID is required")
	}
	teamID := os.Getenv("APPLE_TEAM_ID")
	if teamID == "" {
		return nil, fmt.Errorf("APPLE_TEAM_ID is required")
	}
	topic := os.Getenv("APNS_TOPIC")
	if topic == "" {
		return nil, fmt.Errorf("APNS_TOPIC is required")
	}

	environment := getenv("APNS_ENVIRONMENT", "development")
	if environment != "development" && environment != "production" {
		return nil, fmt.Errorf("APNS_ENVIRONMENT must be development or production, got %q", environment)
	}

	port, err := getint("PORT", 8000)
	if err != nil {
		return nil, err
	}
	host := getenv("HOST", "0.0.0.0")

	kinds, err := getints("NOTIFIABLE_KINDS", []int{1, 4, 6, 7, 9735})
	if err != nil {
		return nil, err
	}
	concurrency, err := getint("DISPATCH_CONCURRENCY", 16)
	if err != nil {
		return nil, err
	}
	capacity, err := getint("CACHE_CAPACITY", 4096)
	if err != nil {
		return nil, err
	}
	muteTTL, err := getdur("MUTE_LIST_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := getdur("SEND_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := getdur("RELAY_FETCH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxAge, err := getdur("EVENT_MAX_AGE", 168*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		APNSKeyPath:     keyPath,
		APNSKeyID:       keyID,
		AppleTeamID:     teamID,
		APNSTopic:       topic,
		APNSEnvironment: environment,

		DatabasePath: getenv("DB_PATH", "./data/notepush.db"),
		Host:         host,
		Port:         port,
		APIBaseURL:   getenv("API_BASE_URL", fmt.Sprintf("https://%s:%d", host, port)),
		RelayURL:     getenv("RELAY_URL", "wss://relay.damus.io"),
		LogLevel:     getenv("LOG_LEVEL", "info"),

		NotifiableKinds:     kinds,
		DispatchConcurrency: concurrency,
		MuteListTTL:         muteTTL,
		SendTimeout:         sendTimeout,
		RelayFetchTimeout:   fetchTimeout,
		EventMaxAge:         maxAge,
		CacheCapacity:       capacity,
	}, nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getdur(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getints(key string, fallback []int) ([]int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	var out []int
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid kind %q in %s: %w", s, key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
