package tlsconfig

import (
	"crypto/tls"
	"testing"
)

func TestApplyVersionProfile(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileSecure)
	if cfg.MinVersion != VersionTLS12 || cfg.MaxVersion != VersionTLS13 {
		t.Fatalf("expected TLS1.2-1.3, got min=%x max=%x", cfg.MinVersion, cfg.MaxVersion)
	}
}

func TestApplyCipherSuitesPicksProfileByMinVersion(t *testing.T) {
	cfg := &tls.Config{}
	ApplyCipherSuites(cfg, VersionTLS13)
	if cfg.CipherSuites != nil {
		t.Fatal("expected nil CipherSuites for TLS 1.3 (negotiated automatically)")
	}

	ApplyCipherSuites(cfg, VersionTLS12)
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("expected a non-empty secure cipher suite list for TLS 1.2")
	}
}

func TestGetVersionNameAndDeprecation(t *testing.T) {
	if GetVersionName(VersionTLS13) != "TLS 1.3" {
		t.Fatalf("unexpected version name: %s", GetVersionName(VersionTLS13))
	}
	if !IsVersionDeprecated(VersionTLS11) {
		t.Fatal("expected TLS 1.1 to be flagged deprecated")
	}
	if IsVersionDeprecated(VersionTLS12) {
		t.Fatal("expected TLS 1.2 not to be flagged deprecated")
	}
}

func TestLoadPKCS12CertificateRejectsGarbageInput(t *testing.T) {
	if _, err := LoadPKCS12Certificate([]byte("not a pkcs12 bundle"), "whatever"); err == nil {
		t.Fatal("expected an error decoding a non-PKCS#12 byte string")
	}
}

func TestLoadPKCS12ChainRejectsGarbageInput(t *testing.T) {
	if _, _, err := LoadPKCS12Chain([]byte("still not a bundle"), "whatever"); err == nil {
		t.Fatal("expected an error decoding a non-PKCS#12 byte string")
	}
}
