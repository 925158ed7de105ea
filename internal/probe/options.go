package probe

import (
	"crypto/tls"
	"time"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultKeepaliveInterval = 20 * time.Second
	defaultKeepaliveTimeout  = 10 * time.Second
	defaultCloseTimeout      = 10 * time.Second
	defaultFirstReplyTimeout = 5 * time.Second
	defaultListenTimeout     = 2 * time.Second
)

// Options control the transport and the two listening windows.
//
// KeepaliveInterval of zero disables pings. Other zero durations fall back
// to the defaults returned by DefaultOptions.
type Options struct {
	// InsecureSkipVerify disables certificate and hostname verification.
	InsecureSkipVerify bool
	// TLS overrides the client TLS configuration. InsecureSkipVerify is
	// still applied on top of it.
	TLS *tls.Config
	// AllowPlaintext permits ws:// endpoints.
	AllowPlaintext bool

	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	CloseTimeout      time.Duration
	FirstReplyTimeout time.Duration
	ListenTimeout     time.Duration
	ReadLimit         int64
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout:  defaultHandshakeTimeout,
		KeepaliveInterval: defaultKeepaliveInterval,
		KeepaliveTimeout:  defaultKeepaliveTimeout,
		CloseTimeout:      defaultCloseTimeout,
		FirstReplyTimeout: defaultFirstReplyTimeout,
		ListenTimeout:     defaultListenTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.KeepaliveInterval < 0 {
		o.KeepaliveInterval = 0
	}
	if o.KeepaliveInterval > 0 && o.KeepaliveTimeout <= 0 {
		o.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.FirstReplyTimeout <= 0 {
		o.FirstReplyTimeout = defaultFirstReplyTimeout
	}
	if o.ListenTimeout <= 0 {
		o.ListenTimeout = defaultListenTimeout
	}
	return o
}
