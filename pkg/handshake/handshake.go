// Package handshake implements the constant-time preshared-key comparison,
// client GUID minting, and the mutual-TLS fail-fast check that
// Client.Connect runs before dialing.
package handshake

import (
	"crypto/subtle"

	"github.com/google/uuid"

	"github.com/corewire/tcpmsg/pkg/errors"
)

// NewClientGuid mints the stable identity assigned to an accepted client
// for the life of its session.
func NewClientGuid() string {
	return uuid.New().String()
}

// KeysMatch compares two preshared keys in constant time. Keys of unequal
// length are rejected immediately without a timing-sensitive comparison,
// since length mismatch alone already leaks nothing beyond what the fixed
// PresharedKeyLength convention already makes public.
func KeysMatch(expected, got string) bool {
	if len(expected) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// ValidateMutualAuthConfig fails fast when mutual TLS authentication is
// required but no client identity was configured, rather than letting the
// dial proceed into an opaque TLS handshake failure.
func ValidateMutualAuthConfig(mutuallyAuthenticate, hasClientCertificate bool) error {
	if mutuallyAuthenticate && !hasClientCertificate {
		return errors.NewAuthError("validate", "MutuallyAuthenticate requires a client certificate but none was configured", nil)
	}
	return nil
}
