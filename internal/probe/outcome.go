package probe

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/hidim/TunnelPanda/internal/certs"
	"github.com/hidim/TunnelPanda/pkg/types"
)

// Kind classifies how a probe run ended.
type Kind string

const (
	KindOK               Kind = "ok"
	KindConnectionClosed Kind = "connection_closed"
	KindInvalidHandshake Kind = "invalid_handshake"
	KindInvalidURI       Kind = "invalid_uri"
	KindUnexpected       Kind = "unexpected"
	KindCanceled         Kind = "canceled"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidHandshake = errors.New("invalid handshake")
	ErrInvalidURI       = errors.New("invalid URI")
	ErrUnexpected       = errors.New("unexpected error")
	ErrCanceled         = errors.New("probe canceled")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConnectionClosed:
		return ErrConnectionClosed
	case KindInvalidHandshake:
		return ErrInvalidHandshake
	case KindInvalidURI:
		return ErrInvalidURI
	case KindCanceled:
		return ErrCanceled
	case KindOK:
		return nil
	default:
		return ErrUnexpected
	}
}

// Error is the failure of a probe run. It matches the sentinel of its Kind
// with errors.Is and exposes the transport error through Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	sentinel := e.Kind.sentinel()
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, sentinel)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, sentinel, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel := e.Kind.sentinel(); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the Kind carried by err, KindOK for nil, and KindUnexpected
// for errors that did not come from a probe run.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnexpected
}

const (
	PhaseConnect    = "connect"
	PhaseSend       = "send"
	PhaseFirstReply = "first_reply"
	PhaseListen     = "listen"
	PhaseClose      = "close"
)

const (
	resultOK            = "ok"
	resultTimeout       = "timeout"
	resultClosed        = "closed"
	resultFailed        = "failed"
	resultCanceled      = "canceled"
	resultNoAck         = "no_ack"
	resultAlreadyClosed = "already_closed"
)

// PhaseRecord is one executed step of a run.
type PhaseRecord struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Result   string
}

// Frame is one inbound WebSocket message.
type Frame struct {
	Phase      string
	Type       int
	Payload    []byte
	ReceivedAt time.Time
}

func (f Frame) TypeName() string {
	switch f.Type {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type-%d", f.Type)
	}
}

// Text renders the payload for logs, truncated to limit bytes when limit > 0.
func (f Frame) Text(limit int) string {
	if f.Type != websocket.TextMessage || !utf8.Valid(f.Payload) {
		return fmt.Sprintf("<%d bytes %s>", len(f.Payload), f.TypeName())
	}
	if limit > 0 && len(f.Payload) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(f.Payload[cut]) {
			cut--
		}
		return fmt.Sprintf("%s...(%d bytes)", f.Payload[:cut], len(f.Payload))
	}
	return string(f.Payload)
}

// CloseInfo is the close frame sent by the remote peer.
type CloseInfo struct {
	Code   int
	Reason string
}

// Outcome is the result of a single probe run.
type Outcome struct {
	RunID    string
	URL      string
	Kind     Kind
	Err      error
	Insecure bool
	// Headers are the handshake headers with credentials redacted.
	Headers            map[string]string
	DroppedHeaders     []string
	HandshakeStatus    int
	HandshakeDuration  time.Duration
	TLS                *certs.PeerInfo
	Sent               []byte
	Frames             []Frame
	FirstReplyTimedOut bool
	RemoteClose        *CloseInfo
	Phases             []PhaseRecord
	CloseAttempts      int
	StartedAt          time.Time
	FinishedAt         time.Time
}

func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// PhaseNames returns the executed phases in order.
func (o Outcome) PhaseNames() []string {
	names := make([]string, 0, len(o.Phases))
	for _, p := range o.Phases {
		names = append(names, p.Name)
	}
	return names
}

// FramesIn returns the frames received during phase.
func (o Outcome) FramesIn(phase string) []Frame {
	var out []Frame
	for _, f := range o.Frames {
		if f.Phase == phase {
			out = append(out, f)
		}
	}
	return out
}

const reportPayloadLimit = 1024

// Report converts the outcome into its persisted form.
func (o Outcome) Report() types.ProbeReport {
	rep := types.ProbeReport{
		RunID:              o.RunID,
		URL:                o.URL,
		Outcome:            string(o.Kind),
		StartedAt:          o.StartedAt,
		FinishedAt:         o.FinishedAt,
		DurationMillis:     millis(o.Duration()),
		Insecure:           o.Insecure,
		Headers:            o.Headers,
		HandshakeStatus:    o.HandshakeStatus,
		HandshakeMillis:    millis(o.HandshakeDuration),
		Sent:               string(o.Sent),
		FirstReplyTimedOut: o.FirstReplyTimedOut,
		Phases:             make([]types.PhaseReport, 0, len(o.Phases)),
		CloseAttempts:      o.CloseAttempts,
	}
	if o.Err != nil {
		rep.Error = o.Err.Error()
	}
	if o.TLS != nil {
		rep.TLS = &types.TLSReport{
			Version:     o.TLS.Version,
			CipherSuite: o.TLS.CipherSuite,
			Subject:     o.TLS.Subject,
			Issuer:      o.TLS.Issuer,
			NotAfter:    o.TLS.NotAfter,
			Verified:    o.TLS.Verified,
		}
	}
	if o.RemoteClose != nil {
		rep.RemoteClose = &types.CloseReport{Code: o.RemoteClose.Code, Reason: o.RemoteClose.Reason}
	}
	for _, f := range o.Frames {
		rep.Frames = append(rep.Frames, types.FrameReport{
			Phase:      f.Phase,
			Type:       f.TypeName(),
			Size:       len(f.Payload),
			Payload:    f.Text(reportPayloadLimit),
			ReceivedAt: f.ReceivedAt,
		})
	}
	for _, p := range o.Phases {
		rep.Phases = append(rep.Phases, types.PhaseReport{
			Name:           p.Name,
			DurationMillis: millis(p.Duration),
			Result:         p.Result,
		})
	}
	return rep
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
