package events

import (
	"io"
	"log"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/hidim/TunnelPanda/pkg/types"
)

// LogRecorder writes events as log lines. Frame events are rate limited so a
// chatty endpoint cannot flood the output; suppressed lines are counted.
type LogRecorder struct {
	logger     *log.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

type LogOption func(*LogRecorder)

// WithFrameRate limits frame log lines to perSecond with the given burst.
// A non-positive rate disables the limit.
func WithFrameRate(perSecond float64, burst int) LogOption {
	return func(r *LogRecorder) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		if burst <= 0 {
			burst = int(perSecond)
			if burst < 1 {
				burst = 1
			}
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewLogRecorder(logger *log.Logger, opts ...LogOption) *LogRecorder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &LogRecorder{logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *LogRecorder) Record(event types.Event) {
	if event.Type == types.EventFrameReceived && r.limiter != nil && !r.limiter.Allow() {
		r.suppressed.Add(1)
		return
	}
	switch event.Level {
	case types.LevelWarn, types.LevelError:
		r.logger.Printf("%s: %s", event.Level, event.Message)
	default:
		r.logger.Print(event.Message)
	}
}

// Suppressed returns the number of frame lines dropped by the rate limit.
func (r *LogRecorder) Suppressed() uint64 {
	return r.suppressed.Load()
}

// Flush logs a summary of suppressed frame lines, if any.
func (r *LogRecorder) Flush() {
	if n := r.suppressed.Load(); n > 0 {
		r.logger.Printf("suppressed %d frame log lines (rate limited)", n)
	}
}
