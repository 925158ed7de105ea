package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadCertificateInfo describes the first certificate of the PEM file at
// path. Verified is always false: nothing is checked against a root.
func LoadCertificateInfo(path string) (PeerInfo, error) {
	if path == "" {
		return PeerInfo{}, fmt.Errorf("certificate path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("read certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return PeerInfo{}, fmt.Errorf("decode certificate %q: no CERTIFICATE block found", path)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return PeerInfo{}, fmt.Errorf("parse certificate %q: %w", path, err)
		}
		return PeerInfo{
			Subject:  cert.Subject.String(),
			Issuer:   cert.Issuer.String(),
			DNSNames: append([]string(nil), cert.DNSNames...),
			NotAfter: cert.NotAfter.UTC(),
		}, nil
	}
}
