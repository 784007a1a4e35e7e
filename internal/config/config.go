package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates service configuration loaded from environment
// variables. Optional subsystems stay disabled when their address is
// empty: no Mongo means the in-memory store, no Kafka means single-node
// fan-out, no Redis means per-process rate limiting.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	IdentityBaseURL  string
	IdentityCacheTTL time.Duration
	NotifyURL        string

	S3Endpoint       string
	S3PublicEndpoint string
	S3AccessKey      string
	S3SecretKey      string
	S3Bucket         string
	S3UseSSL         bool

	TypingTTL      time.Duration
	TypingDebounce time.Duration
	DeleteWindow   time.Duration

	SendPerMinute   int
	TypingPerMinute int

	AttachmentMaxBytes int64
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:              getEnv("APP_ENV", "dev"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          getEnv("MONGO_DB", "messenger"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "chat-events"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "messenger"),
		IdentityBaseURL:  getEnv("IDENTITY_URL", ""),
		NotifyURL:        getEnv("NOTIFY_URL", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
		S3AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:         getEnv("S3_BUCKET", "messenger-attachments"),
		S3UseSSL:         getEnv("S3_USE_SSL", "false") == "true",
		SendPerMinute:    parseIntWithDefault(os.Getenv("SEND_PER_MINUTE"), 60),
		TypingPerMinute:  parseIntWithDefault(os.Getenv("TYPING_PER_MINUTE"), 120),
	}
	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}

	var err error
	if cfg.TypingTTL, err = parseDurationEnv("TYPING_TTL", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TypingDebounce, err = parseDurationEnv("TYPING_DEBOUNCE", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DeleteWindow, err = parseDurationEnv("DELETE_WINDOW", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdentityCacheTTL, err = parseDurationEnv("IDENTITY_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}

	maxBytes := parseIntWithDefault(os.Getenv("ATTACHMENT_MAX_BYTES"), 25<<20)
	cfg.AttachmentMaxBytes = int64(maxBytes)
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return dur, nil
}

func parseIntWithDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
