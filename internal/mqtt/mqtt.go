// Package mqtt provides the optional MQTT transport for the edge agent:
// plate detections arrive on the detections topic, decision summaries go out
// on the decisions topic.
package mqtt

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/plategate/plategate/internal/logging"
)

// MessageHandler receives one message delivered on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe registers a handler for a topic. The subscription is applied
	// immediately when connected and restored on every reconnect.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool

	// Disconnect closes the connection and stops any reconnect attempts.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		SubscribeTimeout:  10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// Package-level logger for MQTT events, initialized lazily so importing the
// package costs nothing when MQTT is disabled.
var (
	mqttLogger     *slog.Logger
	mqttLogClose   func() error
	mqttLoggerOnce sync.Once
)

const defaultLogPath = "logs/mqtt.log"

func getLogger() *slog.Logger {
	mqttLoggerOnce.Do(func() {
		var err error
		mqttLogger, mqttLogClose, err = logging.NewFileLogger(defaultLogPath, "mqtt", slog.LevelInfo)
		if err != nil {
			logging.Error("Failed to initialize MQTT file logger", "error", err)
			mqttLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
			mqttLogClose = func() error { return nil }
		}
	})
	return mqttLogger
}

// CloseLogger closes the MQTT log file.
func CloseLogger() error {
	if mqttLogClose != nil {
		return mqttLogClose()
	}
	return nil
}
