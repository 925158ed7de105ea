package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/hidim/TunnelPanda/pkg/types"
)

const unknownOutcome = "unknown"

// Store maintains the counters and gauges of a probe run. It implements
// events.Recorder so frame counts come straight from the phase trace, and
// exposes them through its own Prometheus registry.
type Store struct {
	framesReceived atomic.Uint64
	bytesReceived  atomic.Uint64
	logSuppressed  atomic.Uint64

	mu                 sync.Mutex
	outcome            string
	firstReplyTimedOut bool
	handshake          time.Duration
	runDuration        time.Duration

	registry    *prometheus.Registry
	outcomeInfo *prometheus.GaugeVec
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	s := &Store{outcome: unknownOutcome, registry: prometheus.NewRegistry()}

	s.outcomeInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsprobe_outcome_info",
		Help: "Outcome kind of the most recent run.",
	}, []string{"kind"})
	s.outcomeInfo.WithLabelValues(unknownOutcome).Set(1)

	s.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wsprobe_frames_received_total",
			Help: "Frames received from the endpoint after the message was sent.",
		}, func() float64 { return float64(s.framesReceived.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wsprobe_bytes_received_total",
			Help: "Payload bytes received from the endpoint.",
		}, func() float64 { return float64(s.bytesReceived.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wsprobe_handshake_duration_seconds",
			Help: "Duration of the opening handshake.",
		}, func() float64 { return s.Snapshot().HandshakeDuration.Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wsprobe_run_duration_seconds",
			Help: "Duration of the whole probe run.",
		}, func() float64 { return s.Snapshot().RunDuration.Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wsprobe_first_reply_timeout",
			Help: "Whether no reply arrived within the first reply window (1=timed out).",
		}, func() float64 {
			if s.Snapshot().FirstReplyTimedOut {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wsprobe_frames_log_suppressed_total",
			Help: "Frame log lines dropped by the log rate limit.",
		}, func() float64 { return float64(s.logSuppressed.Load()) }),
		s.outcomeInfo,
	)
	return s
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	FramesReceivedTotal uint64
	BytesReceivedTotal  uint64
	LogSuppressedTotal  uint64
	Outcome             string
	FirstReplyTimedOut  bool
	HandshakeDuration   time.Duration
	RunDuration         time.Duration
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		FramesReceivedTotal: s.framesReceived.Load(),
		BytesReceivedTotal:  s.bytesReceived.Load(),
		LogSuppressedTotal:  s.logSuppressed.Load(),
		Outcome:             s.outcome,
		FirstReplyTimedOut:  s.firstReplyTimedOut,
		HandshakeDuration:   s.handshake,
		RunDuration:         s.runDuration,
	}
}

// Record counts inbound frames and their payload bytes.
func (s *Store) Record(event types.Event) {
	if event.Type != types.EventFrameReceived {
		return
	}
	s.framesReceived.Add(1)
	if n, ok := event.Details["bytes"].(int); ok && n > 0 {
		s.bytesReceived.Add(uint64(n))
	}
}

// ObserveOutcome stores the result of a finished run.
func (s *Store) ObserveOutcome(kind string, firstReplyTimedOut bool, handshake, total time.Duration) {
	if kind == "" {
		kind = unknownOutcome
	}
	if handshake < 0 {
		handshake = 0
	}
	if total < 0 {
		total = 0
	}
	s.mu.Lock()
	s.outcome = kind
	s.firstReplyTimedOut = firstReplyTimedOut
	s.handshake = handshake
	s.runDuration = total
	s.mu.Unlock()

	s.outcomeInfo.Reset()
	s.outcomeInfo.WithLabelValues(kind).Set(1)
}

// SetLogSuppressed records how many frame log lines were rate limited.
func (s *Store) SetLogSuppressed(n uint64) {
	s.logSuppressed.Store(n)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile replaces path with the current metrics, in the form read by the
// node_exporter textfile collector.
func (s *Store) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure metrics dir %q: %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
