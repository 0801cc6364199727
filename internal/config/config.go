package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultMatchTickInterval = 3 * time.Second
	DefaultBallotTTL         = 120 * time.Second
	DefaultSendQueueSize     = 256
	DefaultSendTimeout       = 5 * time.Second
	DefaultMaxContentBytes   = 4096
	DefaultPageSizeMax       = 100
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	RedisURL       string
	SigningKey     []byte
	AllowedOrigins []string

	MatchTickInterval time.Duration
	BallotTTL         time.Duration
	SendQueueSize     int
	SendTimeout       time.Duration
	MaxContentBytes   int
	PageSizeMax       int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        serverAddr,
		DatabaseDSN:       databaseDSN,
		RedisURL:          GetEnv("REDIS_URL", ""),
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		MatchTickInterval: GetDurationEnv("MATCH_TICK_INTERVAL", DefaultMatchTickInterval),
		BallotTTL:         GetDurationEnv("MATCH_BALLOT_TTL", DefaultBallotTTL),
		SendQueueSize:     GetIntEnv("CONN_SEND_QUEUE", DefaultSendQueueSize),
		SendTimeout:       GetDurationEnv("CONN_SEND_TIMEOUT", DefaultSendTimeout),
		MaxContentBytes:   GetIntEnv("MSG_MAX_CONTENT_BYTES", DefaultMaxContentBytes),
		PageSizeMax:       GetIntEnv("MSG_PAGE_SIZE_MAX", DefaultPageSizeMax),
	}, nil
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
