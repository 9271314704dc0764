// Package timing provides performance measurement utilities for connection setup.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the timing breakdown of establishing a session.
type Metrics struct {
	// TCPConnect is the time spent completing the TCP three-way handshake.
	TCPConnect time.Duration `json:"tcp_connect"`

	// TLSHandshake is the time spent performing the TLS handshake, zero for
	// plaintext sessions.
	TLSHandshake time.Duration `json:"tls_handshake"`

	// AuthHandshake is the time spent in preshared-key exchange after the
	// transport (and optional TLS) layer is up.
	AuthHandshake time.Duration `json:"auth_handshake"`

	// TotalTime is the time elapsed from the Timer's creation to the
	// GetMetrics call.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the phases of a single session's setup.
type Timer struct {
	start     time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	authStart time.Time
	authEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

// StartTCP marks the beginning of TCP connection.
func (t *Timer) StartTCP() {
	t.tcpStart = time.Now()
}

// EndTCP marks the end of TCP connection.
func (t *Timer) EndTCP() {
	t.tcpEnd = time.Now()
}

// RecordTCP records a TCP connect duration measured externally (the dial
// happens before a Session, and its Timer, exist). Equivalent to bracketing
// StartTCP/EndTCP around the dial.
func (t *Timer) RecordTCP(d time.Duration) {
	t.tcpStart = time.Now()
	t.tcpEnd = t.tcpStart.Add(d)
}

// StartTLS marks the beginning of TLS handshake.
func (t *Timer) StartTLS() {
	t.tlsStart = time.Now()
}

// EndTLS marks the end of TLS handshake.
func (t *Timer) EndTLS() {
	t.tlsEnd = time.Now()
}

// StartAuth marks the beginning of preshared-key exchange.
func (t *Timer) StartAuth() {
	t.authStart = time.Now()
}

// EndAuth marks the end of preshared-key exchange.
func (t *Timer) EndAuth() {
	t.authEnd = time.Now()
}

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	metrics := Metrics{
		TotalTime: time.Since(t.start),
	}

	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		metrics.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		metrics.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.authStart.IsZero() && !t.authEnd.IsZero() {
		metrics.AuthHandshake = t.authEnd.Sub(t.authStart)
	}

	return metrics
}

// GetConnectionTime returns the total time spent before the session reached
// Established (TCP + TLS + auth).
func (m Metrics) GetConnectionTime() time.Duration {
	return m.TCPConnect + m.TLSHandshake + m.AuthHandshake
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("TCPConnect: %v, TLSHandshake: %v, AuthHandshake: %v, TotalTime: %v",
		m.TCPConnect, m.TLSHandshake, m.AuthHandshake, m.TotalTime)
}
