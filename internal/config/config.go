// Package config resolves the server configuration from the environment.
// Every knob has a CAMCAST_ variable; a .env file in the working directory is
// honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"camcast/internal/hls"
)

// Config is the fully resolved server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// LogLevel is debug, info, warn, or error.
	LogLevel string
	// LogFormat is text or json.
	LogFormat string

	// FFmpegPath is the transcoder executable.
	FFmpegPath string
	// PublishAddr is the RTMP host:port of the media server.
	PublishAddr string
	// PublishApp is the RTMP application name.
	PublishApp string
	// DefaultStream is the stream name used when the capture client names
	// none.
	DefaultStream string
	// StreamKeyHash, when set, requires capture clients to present the
	// matching stream key.
	StreamKeyHash string

	// QueueDepth bounds the transcoder input queue.
	QueueDepth int
	// StopTimeout bounds graceful transcoder shutdown.
	StopTimeout time.Duration
	// HeartbeatInterval is the WebSocket ping cadence. Zero disables pings.
	HeartbeatInterval time.Duration
	// Retention keeps ended sessions listable for this long.
	Retention time.Duration
	// ReapInterval is how often expired sessions are removed.
	ReapInterval time.Duration

	// HLSBaseURL is the externally reachable playlist base, ending in the
	// stream path, e.g. http://host:8000/live.
	HLSBaseURL string
	// Ladder is the rendition ladder for the synthesized master playlist.
	Ladder []hls.Profile

	// JournalDriver is json or postgres.
	JournalDriver string
	// JournalPath is the JSON journal file.
	JournalPath string
	// JournalDSN is the Postgres journal connection string.
	JournalDSN string

	// EventsDriver is log, redis, or kafka.
	EventsDriver string
	// RedisAddr and RedisStream configure the redis events driver.
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisStream   string
	// KafkaBrokers and KafkaTopic configure the kafka events driver.
	KafkaBrokers []string
	KafkaTopic   string
}

// LoadEnvFile loads a .env file if present. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("CAMCAST_ADDR", ":8080"),
		LogLevel:          getEnv("CAMCAST_LOG_LEVEL", "info"),
		LogFormat:         getEnv("CAMCAST_LOG_FORMAT", "text"),
		FFmpegPath:        getEnv("CAMCAST_FFMPEG_PATH", "ffmpeg"),
		PublishAddr:       getEnv("CAMCAST_PUBLISH_ADDR", "127.0.0.1:1935"),
		PublishApp:        getEnv("CAMCAST_PUBLISH_APP", "live"),
		DefaultStream:     getEnv("CAMCAST_STREAM", "stream"),
		StreamKeyHash:     getEnv("CAMCAST_STREAM_KEY_HASH", ""),
		QueueDepth:        getEnvInt("CAMCAST_QUEUE_DEPTH", 64),
		StopTimeout:       getEnvDuration("CAMCAST_STOP_TIMEOUT", 10*time.Second),
		HeartbeatInterval: getEnvDuration("CAMCAST_HEARTBEAT_INTERVAL", 30*time.Second),
		Retention:         getEnvDuration("CAMCAST_SESSION_RETENTION", time.Hour),
		ReapInterval:      getEnvDuration("CAMCAST_REAP_INTERVAL", time.Minute),
		HLSBaseURL:        getEnv("CAMCAST_HLS_BASE_URL", "http://127.0.0.1:8000/live"),
		JournalDriver:     getEnv("CAMCAST_JOURNAL_DRIVER", "json"),
		JournalPath:       getEnv("CAMCAST_JOURNAL_PATH", "data/journal.json"),
		JournalDSN:        getEnv("CAMCAST_JOURNAL_POSTGRES_DSN", ""),
		EventsDriver:      getEnv("CAMCAST_EVENTS_DRIVER", "log"),
		RedisAddr:         getEnv("CAMCAST_EVENTS_REDIS_ADDR", ""),
		RedisUsername:     getEnv("CAMCAST_EVENTS_REDIS_USERNAME", ""),
		RedisPassword:     os.Getenv("CAMCAST_EVENTS_REDIS_PASSWORD"),
		RedisStream:       getEnv("CAMCAST_EVENTS_REDIS_STREAM", "camcast:sessions"),
		KafkaBrokers:      splitAndTrim(getEnv("CAMCAST_EVENTS_KAFKA_BROKERS", "")),
		KafkaTopic:        getEnv("CAMCAST_EVENTS_KAFKA_TOPIC", "camcast.sessions"),
	}

	if cfg.QueueDepth <= 0 {
		return Config{}, fmt.Errorf("CAMCAST_QUEUE_DEPTH must be positive")
	}

	ladder := hls.DefaultLadder()
	if raw := strings.TrimSpace(os.Getenv("CAMCAST_LADDER")); raw != "" {
		parsed, err := hls.ParseLadder(raw)
		if err != nil {
			return Config{}, fmt.Errorf("CAMCAST_LADDER: %w", err)
		}
		ladder = parsed
	}
	if err := hls.ValidateLadder(ladder); err != nil {
		return Config{}, fmt.Errorf("rendition ladder: %w", err)
	}
	cfg.Ladder = ladder

	switch cfg.JournalDriver {
	case "json", "postgres":
	default:
		return Config{}, fmt.Errorf("CAMCAST_JOURNAL_DRIVER must be json or postgres, got %q", cfg.JournalDriver)
	}
	if cfg.JournalDriver == "postgres" && cfg.JournalDSN == "" {
		return Config{}, fmt.Errorf("CAMCAST_JOURNAL_POSTGRES_DSN is required for the postgres journal")
	}

	switch cfg.EventsDriver {
	case "log", "redis", "kafka":
	default:
		return Config{}, fmt.Errorf("CAMCAST_EVENTS_DRIVER must be log, redis, or kafka, got %q", cfg.EventsDriver)
	}
	if cfg.EventsDriver == "redis" && cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("CAMCAST_EVENTS_REDIS_ADDR is required for the redis events driver")
	}
	if cfg.EventsDriver == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("CAMCAST_EVENTS_KAFKA_BROKERS is required for the kafka events driver")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
