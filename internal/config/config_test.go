package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil, lookupFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("MaxMessageBytes = %d", cfg.MaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Errorf("MaxMessagesPerSecond = %d", cfg.MaxMessagesPerSecond)
	}
	if cfg.WSPongTimeout != DefaultWSPongTimeout || cfg.WSPingInterval != DefaultWSPingInterval {
		t.Errorf("keepalive = %v/%v", cfg.WSPingInterval, cfg.WSPongTimeout)
	}
	if cfg.SendQueueSize != DefaultSendQueueSize {
		t.Errorf("SendQueueSize = %d", cfg.SendQueueSize)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	env := map[string]string{
		envListenAddr:           "0.0.0.0:9000",
		envAllowedOrigins:       "https://app.example.com, https://staging.example.com,",
		envLogFormat:            "json",
		envLogLevel:             "debug",
		envShutdownTimeout:      "5s",
		envMaxMessageBytes:      "1024",
		envMaxMessagesPerSecond: "10",
		envWSPingInterval:       "9s",
		envWSPongTimeout:        "10s",
		envSendQueueSize:        "32",
	}

	cfg, err := load(nil, lookupFrom(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
	if cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("log config = %q/%v", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.MaxMessageBytes != 1024 || cfg.MaxMessagesPerSecond != 10 || cfg.SendQueueSize != 32 {
		t.Errorf("limits = %d/%d/%d", cfg.MaxMessageBytes, cfg.MaxMessagesPerSecond, cfg.SendQueueSize)
	}
	if cfg.WSPingInterval != 9*time.Second || cfg.WSPongTimeout != 10*time.Second {
		t.Errorf("keepalive = %v/%v", cfg.WSPingInterval, cfg.WSPongTimeout)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		envListenAddr: "127.0.0.1:7000",
		envLogFormat:  "json",
	}

	cfg, err := load([]string{"-listen-addr", "127.0.0.1:7001", "-log-format", "text"}, lookupFrom(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7001" {
		t.Errorf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want flag value", cfg.LogFormat)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{
			name: "bad listen addr",
			args: []string{"-listen-addr", "no-port"},
			want: "invalid listen address",
		},
		{
			name: "bad log format",
			env:  map[string]string{envLogFormat: "xml"},
			want: "unsupported log format",
		},
		{
			name: "bad log level",
			env:  map[string]string{envLogLevel: "loud"},
			want: "unsupported log level",
		},
		{
			name: "non-numeric max bytes",
			env:  map[string]string{envMaxMessageBytes: "lots"},
			want: "invalid " + envMaxMessageBytes,
		},
		{
			name: "negative rate",
			env:  map[string]string{envMaxMessagesPerSecond: "-1"},
			want: "must be positive",
		},
		{
			name: "ping not shorter than pong",
			env:  map[string]string{envWSPingInterval: "10s", envWSPongTimeout: "10s"},
			want: "must be shorter",
		},
		{
			name: "bad duration",
			env:  map[string]string{envShutdownTimeout: "soon"},
			want: "invalid " + envShutdownTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(tc.args, lookupFrom(tc.env))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Errorf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Errorf("NewLogger should reject unknown formats")
	}
}
