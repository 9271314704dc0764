// Package constants defines magic numbers and default values used throughout tcpmsg.
package constants

import "time"

// Connection timeouts and limits.
const (
	DefaultConnTimeout    = 10 * time.Second
	DefaultIdleTimeout    = 0 // disabled by default
	DefaultKeepAliveTime  = 30 * time.Second
	DefaultKeepAliveEvery = 5 * time.Second
	IdleSweepInterval     = 1 * time.Second
	ExpirySweepInterval   = 1 * time.Second
	DefaultAuthGrace      = 5 * time.Second
)

// Framing limits.
const (
	// MaxHeaderBytes bounds the JSON header to guard against a malicious or
	// desynchronized peer claiming an enormous header length.
	MaxHeaderBytes = 16 * 1024 * 1024 // 16 MiB

	// DefaultMaxProxiedStreamSize is the payload-size cutoff at or below which a
	// received message is buffered and delivered as MessageReceived rather
	// than handed to the application as a live StreamReceived reader.
	DefaultMaxProxiedStreamSize = 64 * 1024 * 1024 // 64 MiB

	// PresharedKeyLength is the fixed byte length of a preshared key frame.
	PresharedKeyLength = 16
)

// Buffer limits, reused by the optional stream-drain convenience.
const (
	DefaultBufferMemLimit = 4 * 1024 * 1024 // 4MB
)

// MessageQueueDepth bounds the per-session MessageReceived dispatch queue.
// A handler slower than the arrival rate backs up the queue rather than the
// receive loop; once full, enqueuing blocks (still decoupled from the
// socket read, just no longer unbounded).
const MessageQueueDepth = 256
