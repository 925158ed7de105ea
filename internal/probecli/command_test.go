package probecli

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/hidim/TunnelPanda/internal/config"
	"github.com/hidim/TunnelPanda/internal/probe"
	"github.com/hidim/TunnelPanda/pkg/types"
)

func writeConfig(t *testing.T, path string, cfg map[string]any) {
	t.Helper()
	b, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func noEnv(string) string { return "" }

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "panda" || pass != "bamboo" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(mt, p)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func writeServerCA(t *testing.T, server *httptest.Server, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return path
}

func TestRunWritesReportAndMetrics(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	server := newEchoServer(t)
	url := "wss" + strings.TrimPrefix(server.URL, "https") + "/db/status"

	configPath := filepath.Join(tmp, "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{
		"endpoint": map[string]any{"url": url},
		"auth":     map[string]any{"username": "panda", "password": "bamboo", "app_token": "tok-123"},
	})
	reportPath := filepath.Join(tmp, "report.json")
	metricsPath := filepath.Join(tmp, "wsprobe.prom")

	out := &bytes.Buffer{}
	err := Run(ctx, []string{
		"--config", configPath,
		"--ca-file", writeServerCA(t, server, tmp),
		"--report", reportPath,
		"--metrics-file", metricsPath,
		"--message-data", "hello",
		"--first-reply-timeout", "2s",
		"--listen-timeout", "100ms",
	}, Dependencies{Out: out, Getenv: noEnv})
	if err != nil {
		t.Fatalf("Run returned error: %v\n%s", err, out.String())
	}

	logs := out.String()
	for _, fragment := range []string{
		"connecting to " + url,
		`sent: {"type": "ping", "data": "hello"}`,
		`received: {"type": "ping", "data": "hello"}`,
		"no additional messages received",
		"probe finished: outcome=ok",
	} {
		if !strings.Contains(logs, fragment) {
			t.Fatalf("expected log to contain %q, got:\n%s", fragment, logs)
		}
	}
	if strings.Contains(logs, "bamboo") || strings.Contains(logs, "tok-123") {
		t.Fatalf("secrets leaked into logs:\n%s", logs)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep types.ProbeReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Outcome != "ok" || rep.FirstReplyTimedOut || len(rep.Frames) != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.TLS == nil || !rep.TLS.Verified {
		t.Fatalf("expected verified tls in report: %+v", rep.TLS)
	}
	if rep.Headers["X-App-Token"] != "REDACTED" {
		t.Fatalf("expected redacted token in report, got %v", rep.Headers)
	}

	metricsData, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, fragment := range []string{
		"wsprobe_frames_received_total 1",
		`wsprobe_outcome_info{kind="ok"} 1`,
		"wsprobe_first_reply_timeout 0",
	} {
		if !strings.Contains(string(metricsData), fragment) {
			t.Fatalf("expected metrics to contain %q, got:\n%s", fragment, metricsData)
		}
	}
}

func TestRunInsecureFlagFromEnv(t *testing.T) {
	server := newEchoServer(t)
	url := "wss" + strings.TrimPrefix(server.URL, "https")
	env := map[string]string{
		config.EnvConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
	}
	// An explicit missing config path is an error.
	err := Run(context.Background(), []string{"--url", url}, Dependencies{Out: &bytes.Buffer{}, Getenv: func(k string) string { return env[k] }})
	if err == nil {
		t.Fatalf("expected error for missing config file")
	}

	configPath := filepath.Join(t.TempDir(), "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{"endpoint": map[string]any{"url": url}})
	env = map[string]string{
		"WSPROBE_USERNAME": "panda",
		"WSPROBE_PASSWORD": "bamboo",
		"WSPROBE_INSECURE": "true",
	}
	out := &bytes.Buffer{}
	err = Run(context.Background(), []string{"--config", configPath, "--listen-timeout", "50ms"}, Dependencies{Out: out, Getenv: func(k string) string { return env[k] }})
	if err != nil {
		t.Fatalf("Run returned error: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "warn: insecure mode") {
		t.Fatalf("expected insecure warning, got:\n%s", out.String())
	}
}

func TestRunWarnsOnExpiringServerCertificate(t *testing.T) {
	server := newEchoServer(t)
	configPath := filepath.Join(t.TempDir(), "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{
		"endpoint":  map[string]any{"url": "wss" + strings.TrimPrefix(server.URL, "https")},
		"auth":      map[string]any{"username": "panda", "password": "bamboo"},
		"transport": map[string]any{"insecure_skip_verify": true},
		"listen":    map[string]any{"listen_timeout": "50ms"},
	})

	notAfter := server.Certificate().NotAfter
	out := &bytes.Buffer{}
	err := Run(context.Background(), []string{"--config", configPath}, Dependencies{
		Out:    out,
		Getenv: noEnv,
		Now:    func() time.Time { return notAfter.Add(-48 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("Run returned error: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "warn: server certificate") || !strings.Contains(out.String(), "from now") {
		t.Fatalf("expected expiry warning, got:\n%s", out.String())
	}
}

func TestRunReportsHandshakeRejection(t *testing.T) {
	server := newEchoServer(t)
	configPath := filepath.Join(t.TempDir(), "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{
		"endpoint":  map[string]any{"url": "wss" + strings.TrimPrefix(server.URL, "https")},
		"auth":      map[string]any{"username": "panda", "password": "wrong"},
		"transport": map[string]any{"insecure_skip_verify": true},
	})

	out := &bytes.Buffer{}
	err := Run(context.Background(), []string{"--config", configPath}, Dependencies{Out: out, Getenv: noEnv})
	if !errors.Is(err, probe.ErrInvalidHandshake) {
		t.Fatalf("expected invalid handshake, got %v", err)
	}
	if probe.KindOf(err) != probe.KindInvalidHandshake {
		t.Fatalf("unexpected kind: %s", probe.KindOf(err))
	}
	if !strings.Contains(out.String(), "error: handshake: invalid handshake") {
		t.Fatalf("expected error log line, got:\n%s", out.String())
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{"endpoint": map[string]any{"url": "https://blue.example.com"}})

	err := Run(context.Background(), []string{"--config", configPath}, Dependencies{Out: &bytes.Buffer{}, Getenv: noEnv})
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	err = Run(context.Background(), []string{"--config", configPath, "extra"}, Dependencies{Out: &bytes.Buffer{}, Getenv: noEnv})
	if err == nil || !strings.Contains(err.Error(), "unexpected arguments") {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func TestHeadersRedactsSecrets(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "wsprobe.yaml")
	writeConfig(t, configPath, map[string]any{
		"endpoint": map[string]any{
			"url":           "wss://blue.example.com/db/status",
			"extra_headers": map[string]any{"X-Trace": "abc", "Upgrade": "websocket"},
		},
		"auth": map[string]any{"username": "panda", "password": "bamboo", "app_token": "tok-123"},
	})

	out := &bytes.Buffer{}
	if err := Headers(context.Background(), []string{"--config", configPath}, Dependencies{Out: out, Getenv: noEnv}); err != nil {
		t.Fatalf("Headers returned error: %v", err)
	}
	want := strings.Join([]string{
		"URL: wss://blue.example.com/db/status",
		"Authorization: Basic REDACTED",
		"X-App-Token: REDACTED",
		"X-Trace: abc",
		"Dropped (generated by the client): Upgrade",
		"",
	}, "\n")
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out.String(), want)
	}
}
