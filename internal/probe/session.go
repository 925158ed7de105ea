package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	errWaitTimeout = errors.New("bounded wait elapsed")
	errKeepalive   = errors.New("keepalive ping failed")
)

// canceledCloseWait caps the close handshake once the run is canceled.
const canceledCloseWait = 250 * time.Millisecond

// wsConn is the subset of *websocket.Conn used by a session.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

type inbound struct {
	messageType int
	payload     []byte
	err         error
}

// session owns an established connection. A single reader goroutine feeds
// inbound; the probe driver consumes it with bounded waits. release is the
// scoped guard: it runs the closing handshake at most once.
type session struct {
	conn    wsConn
	inbound chan inbound
	done    chan struct{}
	// group runs the reader and the pinger. Its context ends when a ping
	// cannot be written.
	group        *errgroup.Group
	groupCtx     context.Context
	stop         context.CancelFunc
	grace        time.Duration
	closeTimeout time.Duration

	once     sync.Once
	attempts int
	// readErr is the terminal read error, once the driver has observed it.
	readErr   error
	closeSent bool
	closeAck  bool
	// peerClose is a close frame the peer sent on its own while release
	// was running.
	peerClose *websocket.CloseError
	// pingErr is the pinger failure returned by the group, if any.
	pingErr error
}

func newSession(conn wsConn, opts Options) *session {
	ctx, stop := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s := &session{
		conn:         conn,
		inbound:      make(chan inbound),
		done:         make(chan struct{}),
		group:        group,
		groupCtx:     groupCtx,
		stop:         stop,
		closeTimeout: opts.CloseTimeout,
	}

	if opts.KeepaliveInterval > 0 {
		s.grace = opts.KeepaliveInterval + opts.KeepaliveTimeout
		_ = conn.SetReadDeadline(time.Now().Add(s.grace))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.grace))
		})
	}

	s.group.Go(s.readLoop)

	if opts.KeepaliveInterval > 0 {
		s.group.Go(func() error {
			return s.pingLoop(groupCtx, opts.KeepaliveInterval, opts.KeepaliveTimeout)
		})
	}

	return s
}

func (s *session) readLoop() error {
	for {
		mt, p, err := s.conn.ReadMessage()
		select {
		case s.inbound <- inbound{messageType: mt, payload: p, err: err}:
		case <-s.done:
			return nil
		}
		if err != nil {
			return nil
		}
		if s.grace > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.grace))
		}
	}
}

func (s *session) pingLoop(ctx context.Context, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %w", errKeepalive, err)
			}
		}
	}
}

// open reports whether no terminal read error has been observed.
func (s *session) open() bool {
	return s.readErr == nil
}

func (s *session) send(payload []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// next waits up to timeout for the next inbound frame or read error. It
// returns errWaitTimeout when the wait elapses and ctx.Err() on cancellation.
// A failed keepalive ping is delivered as a read error.
func (s *session) next(ctx context.Context, timeout time.Duration) (inbound, error) {
	if !s.open() {
		return inbound{err: s.readErr}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case in := <-s.inbound:
		if in.err != nil {
			s.readErr = in.err
		}
		return in, nil
	case <-timer.C:
		return inbound{}, errWaitTimeout
	case <-ctx.Done():
		return inbound{}, ctx.Err()
	case <-s.groupCtx.Done():
		s.readErr = context.Cause(s.groupCtx)
		return inbound{err: s.readErr}, nil
	}
}

// release closes the connection. While the transport is still open it sends
// a close frame and waits up to the close timeout for the peer's echo; the
// wait is cut to canceledCloseWait once ctx is done. Calling release more
// than once is a no-op.
func (s *session) release(ctx context.Context) {
	s.once.Do(func() {
		s.attempts++
		s.stop()
		if s.open() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.closeTimeout))
			switch {
			case err == nil:
				s.closeSent = true
				s.awaitClose(ctx)
			case errors.Is(err, websocket.ErrCloseSent):
				// The read side already answered a close from the peer.
				s.awaitClose(ctx)
			}
		}
		_ = s.conn.Close()
		close(s.done)
		s.pingErr = s.group.Wait()
	})
}

// awaitClose waits for the read side to end. A normal closure after our own
// close frame is the acknowledgement; any other close frame came from the
// peer.
func (s *session) awaitClose(ctx context.Context) {
	deadline := time.Now().Add(s.closeTimeout)
	if ctx.Err() != nil {
		deadline = earlier(deadline, time.Now().Add(canceledCloseWait))
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	canceled := ctx.Done()
	for {
		select {
		case in := <-s.inbound:
			if in.err == nil {
				// Frames still in flight when the close was sent.
				continue
			}
			s.readErr = in.err
			var closeErr *websocket.CloseError
			if errors.As(in.err, &closeErr) {
				if s.closeSent && closeErr.Code == websocket.CloseNormalClosure {
					s.closeAck = true
				} else {
					s.peerClose = closeErr
				}
			}
			return
		case <-canceled:
			canceled = nil
			if short := time.Now().Add(canceledCloseWait); short.Before(deadline) {
				deadline = short
				timer.Reset(time.Until(deadline))
			}
		case <-timer.C:
			return
		}
	}
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
