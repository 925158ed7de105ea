package certs

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCertificateInfo(t *testing.T) {
	caCert, caKey := mustCreateCA(t)
	clientCert, clientKey := mustCreateClientCert(t, caCert, caKey)

	// Key first: the loader skips non-certificate blocks.
	path := writeTemp(t, "client.pem", bytes.Join([][]byte{clientKey, clientCert}, nil))

	info, err := LoadCertificateInfo(path)
	if err != nil {
		t.Fatalf("LoadCertificateInfo: %v", err)
	}
	if info.Subject != "CN=wsprobe-client" {
		t.Fatalf("unexpected subject: %s", info.Subject)
	}
	if info.Verified {
		t.Fatalf("file certificates are never reported as verified")
	}
	if time.Until(info.NotAfter) <= 0 {
		t.Fatalf("expected expiry in the future, got %v", info.NotAfter)
	}
	if !info.ExpiresWithin(time.Now(), 30*24*time.Hour) {
		t.Fatalf("expected short-lived test certificate to expire within 30 days")
	}
}

func TestLoadCertificateInfoFailures(t *testing.T) {
	if _, err := LoadCertificateInfo(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadCertificateInfo(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatalf("expected error for missing cert")
	}
	if _, err := LoadCertificateInfo(writeTemp(t, "junk.pem", []byte("not a cert"))); err == nil {
		t.Fatalf("expected error for invalid data")
	}
	caCert, caKey := mustCreateCA(t)
	_, key := mustCreateServerCert(t, caCert, caKey)
	if _, err := LoadCertificateInfo(writeTemp(t, "key.pem", key)); err == nil {
		t.Fatalf("expected error for key-only file")
	}
}
