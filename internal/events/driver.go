package events

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config selects and configures an event backend.
type Config struct {
	// Driver is one of "log", "redis", or "kafka". Empty selects "log".
	Driver string
	Logger *slog.Logger
	Redis  RedisConfig
	Kafka  KafkaConfig
}

// NewPublisher constructs the publisher named by cfg.Driver.
func NewPublisher(cfg Config) (Publisher, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "log":
		return NewLogPublisher(cfg.Logger), nil
	case "redis":
		return NewRedisPublisher(cfg.Redis)
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
