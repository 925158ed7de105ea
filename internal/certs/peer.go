package certs

import (
	"crypto/tls"
	"time"
)

// PeerInfo summarises the negotiated TLS session of an established connection.
type PeerInfo struct {
	Version     string    `json:"version"`
	CipherSuite string    `json:"cipher_suite"`
	ServerName  string    `json:"server_name,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	DNSNames    []string  `json:"dns_names,omitempty"`
	NotAfter    time.Time `json:"not_after,omitempty"`
	Verified    bool      `json:"verified"`
}

// Peer extracts a PeerInfo from a completed handshake. ok is false when the
// handshake did not complete or the peer presented no certificate.
func Peer(state tls.ConnectionState) (PeerInfo, bool) {
	if !state.HandshakeComplete || len(state.PeerCertificates) == 0 {
		return PeerInfo{}, false
	}
	leaf := state.PeerCertificates[0]
	info := PeerInfo{
		Version:     tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		ServerName:  state.ServerName,
		Subject:     leaf.Subject.String(),
		Issuer:      leaf.Issuer.String(),
		DNSNames:    append([]string(nil), leaf.DNSNames...),
		NotAfter:    leaf.NotAfter.UTC(),
		Verified:    len(state.VerifiedChains) > 0,
	}
	return info, true
}

// ExpiresWithin reports whether the peer certificate expires before now+window.
func (p PeerInfo) ExpiresWithin(now time.Time, window time.Duration) bool {
	if p.NotAfter.IsZero() {
		return false
	}
	return p.NotAfter.Before(now.Add(window))
}
