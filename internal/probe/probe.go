// Package probe implements a single-shot WebSocket connectivity check: open
// one secure connection, send one message, listen under two sequential
// bounded waits, and release the connection on every exit path.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hidim/TunnelPanda/internal/certs"
	"github.com/hidim/TunnelPanda/internal/events"
	"github.com/hidim/TunnelPanda/internal/redact"
	"github.com/hidim/TunnelPanda/pkg/types"
)

const logPayloadLimit = 2048

// Dialer opens the WebSocket connection. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Dependencies allow test overrides for dialing, clock, and event output.
type Dependencies struct {
	// Dialer replaces the dialer built from Options.
	Dialer   Dialer
	Recorder events.Recorder
	// Logger is used through an events.LogRecorder when Recorder is nil.
	Logger   *log.Logger
	Now      func() time.Time
	NewRunID func() string
}

// Prober runs connectivity probes with fixed options.
type Prober struct {
	opts     Options
	dialer   Dialer
	recorder events.Recorder
	now      func() time.Time
	newRunID func() string
}

func New(opts Options, deps Dependencies) *Prober {
	recorder := deps.Recorder
	if recorder == nil {
		if deps.Logger != nil {
			recorder = events.NewLogRecorder(deps.Logger)
		} else {
			recorder = events.NoopRecorder{}
		}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = func() string { return uuid.NewString() }
	}
	return &Prober{
		opts:     opts.withDefaults(),
		dialer:   deps.Dialer,
		recorder: recorder,
		now:      now,
		newRunID: newRunID,
	}
}

// Run probes endpoint with msg using opts and the default dependencies.
func Run(ctx context.Context, endpoint Endpoint, msg Message, opts Options) Outcome {
	return New(opts, Dependencies{}).Run(ctx, endpoint, msg)
}

// Run executes connect, send, first reply wait, listen loop and close, in
// that order, stopping at the first failure. The connection is released on
// every path once the handshake has succeeded.
func (p *Prober) Run(ctx context.Context, endpoint Endpoint, msg Message) Outcome {
	header, dropped := HandshakeHeader(endpoint.Header)
	r := &run{
		p:      p,
		opts:   p.opts,
		header: header,
		out: Outcome{
			RunID:          p.newRunID(),
			URL:            redact.URL(endpoint.URL),
			Kind:           KindOK,
			Headers:        redact.Header(header),
			DroppedHeaders: dropped,
			StartedAt:      p.now().UTC(),
		},
	}
	r.execute(ctx, endpoint.URL, msg)
	r.out.FinishedAt = p.now().UTC()
	return r.out
}

type run struct {
	p      *Prober
	opts   Options
	header http.Header
	out    Outcome
}

func (r *run) execute(ctx context.Context, rawURL string, msg Message) {
	target, err := parseTarget(rawURL, r.opts.AllowPlaintext)
	if err != nil {
		r.fail("", KindInvalidURI, "parse endpoint", err, types.EventFailure)
		return
	}

	payload, err := msg.Encode()
	if err != nil {
		r.fail("", KindUnexpected, "encode message", err, types.EventFailure)
		return
	}

	sess, ok := r.connect(ctx, target)
	if !ok {
		return
	}
	defer r.close(ctx, sess)

	if !r.send(ctx, sess, payload) {
		return
	}
	if !r.firstReply(ctx, sess) {
		return
	}
	r.listen(ctx, sess)
}

func parseTarget(raw string, allowPlaintext bool) (*url.URL, error) {
	safe := redact.URL(raw)
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", safe, err)
	}
	switch u.Scheme {
	case "wss":
	case "ws":
		if !allowPlaintext {
			return nil, fmt.Errorf("%q is not a secure WebSocket URI", safe)
		}
	default:
		return nil, fmt.Errorf("%q is not a WebSocket URI (scheme %q)", safe, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q has no host", safe)
	}
	return u, nil
}

func (r *run) connect(ctx context.Context, target *url.URL) (*session, bool) {
	started := r.p.now()

	r.emit(types.EventConnecting, types.LevelInfo, PhaseConnect,
		fmt.Sprintf("connecting to %s (headers: %s)", r.out.URL, formatHeaders(r.out.Headers)),
		map[string]any{"url": r.out.URL})
	if len(r.out.DroppedHeaders) > 0 {
		r.emit(types.EventHeadersDropped, types.LevelInfo, PhaseConnect,
			fmt.Sprintf("dropped protocol headers generated by the client: %s", strings.Join(r.out.DroppedHeaders, ", ")),
			map[string]any{"headers": r.out.DroppedHeaders})
	}

	dialer := r.p.dialer
	if dialer == nil {
		d, err := r.newDialer(target)
		if err != nil {
			r.fail(PhaseConnect, KindUnexpected, "configure tls", err, types.EventFailure)
			r.phase(PhaseConnect, started, resultFailed)
			return nil, false
		}
		dialer = d
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), r.header.Clone())
	r.out.HandshakeDuration = r.p.now().Sub(started)
	if resp != nil {
		r.out.HandshakeStatus = resp.StatusCode
	}
	if err != nil {
		kind := classifyDialError(ctx, err, resp)
		if kind == KindInvalidHandshake && resp != nil {
			err = fmt.Errorf("%w (status %s%s)", err, resp.Status, responseSnippet(resp))
		}
		r.fail(PhaseConnect, kind, "handshake", err, types.EventFailure)
		r.phase(PhaseConnect, started, resultFor(kind))
		return nil, false
	}

	if tlsConn, ok := conn.UnderlyingConn().(*tls.Conn); ok {
		if info, ok := certs.Peer(tlsConn.ConnectionState()); ok {
			r.out.TLS = &info
		}
	}
	if r.opts.ReadLimit > 0 {
		conn.SetReadLimit(r.opts.ReadLimit)
	}

	r.emit(types.EventConnected, types.LevelInfo, PhaseConnect,
		fmt.Sprintf("connected successfully (status %d, %s)", r.out.HandshakeStatus, r.out.HandshakeDuration.Round(time.Millisecond)),
		map[string]any{"status": r.out.HandshakeStatus, "handshake_ms": millis(r.out.HandshakeDuration)})
	r.phase(PhaseConnect, started, resultOK)

	return newSession(conn, r.opts), true
}

func (r *run) newDialer(target *url.URL) (*websocket.Dialer, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: r.opts.HandshakeTimeout,
	}
	if target.Scheme != "wss" {
		return dialer, nil
	}

	var tlsConfig *tls.Config
	if r.opts.TLS != nil {
		tlsConfig = r.opts.TLS.Clone()
		if r.opts.InsecureSkipVerify {
			tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit insecure mode
		}
	} else {
		cfg, err := certs.ClientTLSConfig(certs.ClientOptions{
			ServerURL:          target.String(),
			InsecureSkipVerify: r.opts.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		tlsConfig = cfg
	}

	if tlsConfig.InsecureSkipVerify {
		r.out.Insecure = true
		r.emit(types.EventInsecureTLS, types.LevelWarn, PhaseConnect,
			"insecure mode: TLS certificate and hostname verification disabled", nil)
	}
	dialer.TLSClientConfig = tlsConfig
	return dialer, nil
}

func (r *run) send(ctx context.Context, sess *session, payload []byte) bool {
	started := r.p.now()
	if err := ctx.Err(); err != nil {
		r.fail(PhaseSend, KindCanceled, "send message", err, types.EventFailure)
		r.phase(PhaseSend, started, resultCanceled)
		return false
	}
	if err := sess.send(payload); err != nil {
		kind := KindUnexpected
		if isCloseError(err) {
			kind = KindConnectionClosed
		}
		r.fail(PhaseSend, kind, "send message", err, types.EventFailure)
		r.phase(PhaseSend, started, resultFor(kind))
		return false
	}
	r.out.Sent = append([]byte(nil), payload...)
	r.emit(types.EventMessageSent, types.LevelInfo, PhaseSend,
		fmt.Sprintf("sent: %s", payload),
		map[string]any{"bytes": len(payload)})
	r.phase(PhaseSend, started, resultOK)
	return true
}

// firstReply waits once for a single frame. A timeout is recorded but the
// run continues with the listen phase.
func (r *run) firstReply(ctx context.Context, sess *session) bool {
	started := r.p.now()
	in, err := sess.next(ctx, r.opts.FirstReplyTimeout)
	switch {
	case errors.Is(err, errWaitTimeout):
		r.out.FirstReplyTimedOut = true
		r.emit(types.EventReplyTimeout, types.LevelWarn, PhaseFirstReply,
			fmt.Sprintf("no response received within %s", r.opts.FirstReplyTimeout),
			map[string]any{"timeout_ms": millis(r.opts.FirstReplyTimeout)})
		r.phase(PhaseFirstReply, started, resultTimeout)
		return true
	case err != nil:
		r.fail(PhaseFirstReply, KindCanceled, "await first reply", err, types.EventFailure)
		r.phase(PhaseFirstReply, started, resultCanceled)
		return false
	case in.err != nil:
		kind := r.readFailure(PhaseFirstReply, in.err)
		r.phase(PhaseFirstReply, started, resultFor(kind))
		return false
	}
	r.frame(PhaseFirstReply, in, "received")
	r.phase(PhaseFirstReply, started, resultOK)
	return true
}

// listen drains frames until one bounded wait elapses without traffic,
// which is the normal exit, or the connection ends.
func (r *run) listen(ctx context.Context, sess *session) {
	started := r.p.now()
	r.emit(types.EventListening, types.LevelInfo, PhaseListen, "listening for additional messages...", nil)

	received := 0
	for {
		in, err := sess.next(ctx, r.opts.ListenTimeout)
		switch {
		case errors.Is(err, errWaitTimeout):
			msg := "no additional messages received"
			if received > 0 {
				msg = fmt.Sprintf("no further messages within %s (%d additional received)", r.opts.ListenTimeout, received)
			}
			r.emit(types.EventListenTimeout, types.LevelInfo, PhaseListen, msg,
				map[string]any{"received": received})
			r.phase(PhaseListen, started, resultTimeout)
			return
		case err != nil:
			r.fail(PhaseListen, KindCanceled, "listen", err, types.EventFailure)
			r.phase(PhaseListen, started, resultCanceled)
			return
		case in.err != nil:
			kind := r.readFailure(PhaseListen, in.err)
			r.phase(PhaseListen, started, resultFor(kind))
			return
		}
		received++
		r.frame(PhaseListen, in, "additional message")
	}
}

func (r *run) close(ctx context.Context, sess *session) {
	started := r.p.now()
	r.emit(types.EventClosing, types.LevelInfo, PhaseClose, "closing connection", nil)

	wasOpen := sess.open()
	sess.release(ctx)
	r.out.CloseAttempts = sess.attempts

	if wasOpen && sess.peerClose != nil {
		r.out.RemoteClose = &CloseInfo{Code: sess.peerClose.Code, Reason: sess.peerClose.Text}
		r.emit(types.EventRemoteClose, types.LevelInfo, PhaseClose,
			fmt.Sprintf("server closed the connection first (code %d, reason %q)", sess.peerClose.Code, sess.peerClose.Text),
			map[string]any{"code": sess.peerClose.Code, "reason": sess.peerClose.Text})
	}
	if wasOpen && sess.pingErr != nil {
		r.emit(types.EventKeepaliveFailed, types.LevelWarn, PhaseClose, redact.Text(sess.pingErr.Error()), nil)
	}

	result := resultOK
	switch {
	case !wasOpen, sess.peerClose != nil:
		result = resultAlreadyClosed
	case !sess.closeSent:
		result = resultFailed
	case !sess.closeAck:
		result = resultNoAck
	}
	r.emit(types.EventClosed, types.LevelInfo, PhaseClose,
		fmt.Sprintf("connection released (%s)", result),
		map[string]any{"result": result})
	r.phase(PhaseClose, started, result)
}

func (r *run) frame(phase string, in inbound, label string) {
	f := Frame{
		Phase:      phase,
		Type:       in.messageType,
		Payload:    in.payload,
		ReceivedAt: r.p.now().UTC(),
	}
	r.out.Frames = append(r.out.Frames, f)
	r.emit(types.EventFrameReceived, types.LevelInfo, phase,
		fmt.Sprintf("%s: %s", label, f.Text(logPayloadLimit)),
		map[string]any{"bytes": len(f.Payload), "frame_type": f.TypeName()})
}

// readFailure classifies a terminal read error and records it.
func (r *run) readFailure(phase string, err error) Kind {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		r.out.RemoteClose = &CloseInfo{Code: closeErr.Code, Reason: closeErr.Text}
		r.fail(phase, KindConnectionClosed, "receive", err, types.EventRemoteClose)
		return KindConnectionClosed
	}
	if errors.Is(err, errKeepalive) {
		r.fail(phase, KindUnexpected, "keepalive", err, types.EventKeepaliveFailed)
		return KindUnexpected
	}
	if isTimeout(err) && r.opts.KeepaliveInterval > 0 {
		err = fmt.Errorf("no pong within %s: %w", r.opts.KeepaliveTimeout, err)
		r.fail(phase, KindUnexpected, "keepalive", err, types.EventKeepaliveFailed)
		return KindUnexpected
	}
	r.fail(phase, KindUnexpected, "receive", err, types.EventFailure)
	return KindUnexpected
}

// fail records the first failure of the run; later failures are only logged.
func (r *run) fail(phase string, kind Kind, op string, err error, eventType types.EventType) {
	perr := &Error{Kind: kind, Op: op, Err: err}
	if r.out.Err == nil {
		r.out.Kind = kind
		r.out.Err = perr
	}
	r.emit(eventType, types.LevelError, phase, redact.Text(perr.Error()),
		map[string]any{"kind": string(kind)})
}

func (r *run) phase(name string, started time.Time, result string) {
	r.out.Phases = append(r.out.Phases, PhaseRecord{
		Name:     name,
		Started:  started.UTC(),
		Duration: r.p.now().Sub(started),
		Result:   result,
	})
}

func (r *run) emit(eventType types.EventType, level types.Level, phase, msg string, details map[string]any) {
	r.p.recorder.Record(types.Event{
		Type:      eventType,
		Timestamp: r.p.now().UTC(),
		RunID:     r.out.RunID,
		Phase:     phase,
		Level:     level,
		Message:   msg,
		Details:   details,
	})
}

func classifyDialError(ctx context.Context, err error, resp *http.Response) Kind {
	switch {
	case ctx.Err() != nil:
		return KindCanceled
	case resp != nil, errors.Is(err, websocket.ErrBadHandshake):
		return KindInvalidHandshake
	default:
		return KindUnexpected
	}
}

// isTimeout reports a read deadline expiry. The websocket library rewraps
// temporary network errors, so os.ErrDeadlineExceeded is not always in the
// chain.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent)
}

func resultFor(kind Kind) string {
	switch kind {
	case KindOK:
		return resultOK
	case KindConnectionClosed:
		return resultClosed
	case KindCanceled:
		return resultCanceled
	default:
		return resultFailed
	}
}

// responseSnippet returns the start of a rejected handshake's body, which
// usually names the failed check.
func responseSnippet(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil || len(data) == 0 {
		return ""
	}
	return ": " + strings.TrimSpace(string(data))
}

func formatHeaders(h map[string]string) string {
	if len(h) == 0 {
		return "none"
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+h[name])
	}
	return strings.Join(parts, ", ")
}
