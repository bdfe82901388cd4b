package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/biooids/web-rtc-biooids/internal/config"
	"github.com/biooids/web-rtc-biooids/internal/metrics"
	"github.com/biooids/web-rtc-biooids/internal/relay"
	"github.com/biooids/web-rtc-biooids/internal/wire"
)

func startTestServer(t *testing.T) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		ListenAddr:      "127.0.0.1:0",
		LogFormat:       config.LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 2 * time.Second,
	}
	met := metrics.New()
	rs := relay.NewServer(relay.Config{Logger: log, Metrics: met})
	srv := New(cfg, log, BuildInfo{Commit: "abc", BuildTime: "time"}, rs, met)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t)

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ready"] != true {
			t.Fatalf("body=%v, want ready=true", body)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	baseURL := startTestServer(t)

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "biooids_call_relay_events_total") {
		t.Fatalf("metrics body missing counter family:\n%s", body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	baseURL := startTestServer(t)

	t.Run("generated", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("missing generated X-Request-ID")
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
		req.Header.Set("X-Request-ID", "test-id-123")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		defer resp.Body.Close()
		if got := resp.Header.Get("X-Request-ID"); got != "test-id-123" {
			t.Fatalf("X-Request-ID = %q, want test-id-123", got)
		}
	})
}

// The signaling upgrade must survive the middleware chain, which wraps the
// ResponseWriter for status logging.
func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	baseURL := startTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?roomId=test"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read init: %v", err)
	}
	if env.Type != wire.TypeInit {
		t.Fatalf("first message = %q, want init", env.Type)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	baseURL := startTestServer(t)

	resp, err := http.Get(baseURL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
}
