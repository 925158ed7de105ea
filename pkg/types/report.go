package types

import "time"

// ProbeReport is the persisted form of a single probe run.
type ProbeReport struct {
	RunID              string            `json:"run_id" yaml:"run_id"`
	URL                string            `json:"url" yaml:"url"`
	Outcome            string            `json:"outcome" yaml:"outcome"`
	Error              string            `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt          time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt         time.Time         `json:"finished_at" yaml:"finished_at"`
	DurationMillis     float64           `json:"duration_ms" yaml:"duration_ms"`
	Insecure           bool              `json:"insecure" yaml:"insecure"`
	Headers            map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	HandshakeStatus    int               `json:"handshake_status,omitempty" yaml:"handshake_status,omitempty"`
	HandshakeMillis    float64           `json:"handshake_ms" yaml:"handshake_ms"`
	TLS                *TLSReport        `json:"tls,omitempty" yaml:"tls,omitempty"`
	Sent               string            `json:"sent,omitempty" yaml:"sent,omitempty"`
	FirstReplyTimedOut bool              `json:"first_reply_timed_out" yaml:"first_reply_timed_out"`
	RemoteClose        *CloseReport      `json:"remote_close,omitempty" yaml:"remote_close,omitempty"`
	Frames             []FrameReport     `json:"frames,omitempty" yaml:"frames,omitempty"`
	Phases             []PhaseReport     `json:"phases" yaml:"phases"`
	CloseAttempts      int               `json:"close_attempts" yaml:"close_attempts"`
}

type TLSReport struct {
	Version     string    `json:"version" yaml:"version"`
	CipherSuite string    `json:"cipher_suite" yaml:"cipher_suite"`
	Subject     string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Issuer      string    `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	NotAfter    time.Time `json:"not_after" yaml:"not_after"`
	Verified    bool      `json:"verified" yaml:"verified"`
}

type CloseReport struct {
	Code   int    `json:"code" yaml:"code"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

type FrameReport struct {
	Phase      string    `json:"phase" yaml:"phase"`
	Type       string    `json:"type" yaml:"type"`
	Size       int       `json:"size" yaml:"size"`
	Payload    string    `json:"payload,omitempty" yaml:"payload,omitempty"`
	ReceivedAt time.Time `json:"received_at" yaml:"received_at"`
}

type PhaseReport struct {
	Name           string  `json:"name" yaml:"name"`
	DurationMillis float64 `json:"duration_ms" yaml:"duration_ms"`
	Result         string  `json:"result" yaml:"result"`
}
