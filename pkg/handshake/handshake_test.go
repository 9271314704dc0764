package handshake

import "testing"

func TestKeysMatch(t *testing.T) {
	if !KeysMatch("sekrit", "sekrit") {
		t.Fatal("expected identical keys to match")
	}
	if KeysMatch("sekrit", "wrong!") {
		t.Fatal("expected different keys of equal length not to match")
	}
	if KeysMatch("sekrit", "short") {
		t.Fatal("expected keys of different length not to match")
	}
}

func TestNewClientGuidIsUnique(t *testing.T) {
	a := NewClientGuid()
	b := NewClientGuid()
	if a == b {
		t.Fatal("expected two minted GUIDs to differ")
	}
	if a == "" {
		t.Fatal("expected a non-empty GUID")
	}
}

func TestValidateMutualAuthConfig(t *testing.T) {
	if err := ValidateMutualAuthConfig(false, false); err != nil {
		t.Fatalf("mTLS not required: expected no error, got %v", err)
	}
	if err := ValidateMutualAuthConfig(true, true); err != nil {
		t.Fatalf("mTLS required and satisfied: expected no error, got %v", err)
	}
	if err := ValidateMutualAuthConfig(true, false); err == nil {
		t.Fatal("mTLS required without a client certificate: expected an error")
	}
}
