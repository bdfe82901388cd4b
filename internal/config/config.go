// Package config loads the relay's runtime configuration from flags and
// environment variables, flags taking precedence.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr      = "BIOOIDS_CALL_RELAY_LISTEN_ADDR"
	envAllowedOrigins  = "ALLOWED_ORIGINS"
	envLogFormat       = "BIOOIDS_CALL_RELAY_LOG_FORMAT"
	envLogLevel        = "BIOOIDS_CALL_RELAY_LOG_LEVEL"
	envShutdownTimeout = "BIOOIDS_CALL_RELAY_SHUTDOWN_TIMEOUT"

	// Signaling WebSocket hardening.
	envMaxMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envMaxMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envWSPongTimeout        = "SIGNALING_WS_PONG_TIMEOUT"
	envSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"

	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024 // enough for any SDP
	DefaultMaxMessagesPerSecond = 50
	DefaultWSPongTimeout        = 60 * time.Second
	DefaultWSPingInterval       = DefaultWSPongTimeout * 9 / 10
	DefaultSendQueueSize        = 256
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr     string
	AllowedOrigins []string

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	WSPingInterval       time.Duration
	WSPongTimeout        time.Duration
	SendQueueSize        int
}

// Load parses args and the environment into a validated Config.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:           envOrDefault(lookup, envListenAddr, DefaultListenAddr),
		LogFormat:            LogFormat(envOrDefault(lookup, envLogFormat, string(LogFormatText))),
		ShutdownTimeout:      DefaultShutdownTimeout,
		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		WSPingInterval:       DefaultWSPingInterval,
		WSPongTimeout:        DefaultWSPongTimeout,
		SendQueueSize:        DefaultSendQueueSize,
	}

	if raw := envOrDefault(lookup, envAllowedOrigins, ""); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(entry); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	level, err := parseLogLevel(envOrDefault(lookup, envLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envWSPingInterval, cfg.WSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.WSPongTimeout, err = envDurationOrDefault(lookup, envWSPongTimeout, cfg.WSPongTimeout); err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envMaxMessageBytes, int(cfg.MaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envMaxMessagesPerSecond, cfg.MaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize, err = envIntOrDefault(lookup, envSendQueueSize, cfg.SendQueueSize); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("biooids-call-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	logFormat := fs.String("log-format", string(cfg.LogFormat), "log format: text or json")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.LogFormat = LogFormat(*logFormat)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("%s must be positive", envMaxMessagesPerSecond)
	}
	if c.WSPingInterval <= 0 || c.WSPongTimeout <= 0 {
		return fmt.Errorf("websocket keepalive intervals must be positive")
	}
	if c.WSPingInterval >= c.WSPongTimeout {
		return fmt.Errorf("%s must be shorter than %s", envWSPingInterval, envWSPongTimeout)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%s must be positive", envSendQueueSize)
	}
	return nil
}

// NewLogger builds the process logger per config.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
