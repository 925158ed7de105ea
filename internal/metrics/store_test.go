package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hidim/TunnelPanda/pkg/types"
)

func TestStoreRecordCountsFrames(t *testing.T) {
	store := NewStore()

	store.Record(types.Event{Type: types.EventFrameReceived, Details: map[string]any{"bytes": 4}})
	store.Record(types.Event{Type: types.EventFrameReceived, Details: map[string]any{"bytes": 10}})
	store.Record(types.Event{Type: types.EventFrameReceived})
	store.Record(types.Event{Type: types.EventMessageSent, Details: map[string]any{"bytes": 29}})

	snap := store.Snapshot()
	if snap.FramesReceivedTotal != 3 {
		t.Fatalf("expected 3 frames got %d", snap.FramesReceivedTotal)
	}
	if snap.BytesReceivedTotal != 14 {
		t.Fatalf("expected 14 bytes got %d", snap.BytesReceivedTotal)
	}
}

func TestStoreObserveOutcome(t *testing.T) {
	store := NewStore()
	store.ObserveOutcome("connection_closed", true, 25*time.Millisecond, -time.Second)
	store.SetLogSuppressed(3)

	snap := store.Snapshot()
	if snap.Outcome != "connection_closed" || !snap.FirstReplyTimedOut {
		t.Fatalf("unexpected outcome snapshot: %+v", snap)
	}
	if snap.HandshakeDuration != 25*time.Millisecond {
		t.Fatalf("unexpected handshake duration: %s", snap.HandshakeDuration)
	}
	if snap.RunDuration != 0 {
		t.Fatalf("expected negative duration clamped to 0, got %s", snap.RunDuration)
	}
	if snap.LogSuppressedTotal != 3 {
		t.Fatalf("expected 3 suppressed got %d", snap.LogSuppressedTotal)
	}
}

func TestStoreWritePrometheus(t *testing.T) {
	store := NewStore()
	store.Record(types.Event{Type: types.EventFrameReceived, Details: map[string]any{"bytes": 4}})
	store.ObserveOutcome("ok", false, 250*time.Millisecond, 2500*time.Millisecond)

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"wsprobe_frames_received_total 1",
		"wsprobe_bytes_received_total 4",
		"wsprobe_handshake_duration_seconds 0.25",
		"wsprobe_run_duration_seconds 2.5",
		"wsprobe_first_reply_timeout 0",
		"wsprobe_outcome_info{kind=\"ok\"} 1",
		"wsprobe_frames_log_suppressed_total 0",
		"# TYPE wsprobe_frames_received_total counter",
	}
	for _, fragment := range expect {
		if !strings.Contains(output, fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, output)
		}
	}
}

func TestStoreWritePrometheusBeforeOutcome(t *testing.T) {
	var sb strings.Builder
	if err := NewStore().WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	if !strings.Contains(sb.String(), "wsprobe_outcome_info{kind=\"unknown\"} 1") {
		t.Fatalf("expected unknown outcome, got:\n%s", sb.String())
	}
}

func TestStoreWriteFile(t *testing.T) {
	store := NewStore()
	store.ObserveOutcome("invalid_handshake", false, 0, time.Second)

	path := filepath.Join(t.TempDir(), "textfile", "wsprobe.prom")
	if err := store.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	if !strings.Contains(string(data), "wsprobe_outcome_info{kind=\"invalid_handshake\"} 1") {
		t.Fatalf("unexpected metrics file:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}
