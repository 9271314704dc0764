// Package tcpmsg provides a bidirectional, message-framed transport over raw
// or TLS-protected TCP: a Server that accepts many Connection Sessions and a
// Client that drives one, both exchanging discrete header-framed messages
// with optional synchronous request/response correlation, preshared-key
// authentication, idle eviction, and auto-reconnect.
package tcpmsg

import (
	"github.com/corewire/tcpmsg/pkg/buffer"
	"github.com/corewire/tcpmsg/pkg/client"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/server"
	"github.com/corewire/tcpmsg/pkg/session"
)

// Version is the current version of the tcpmsg library.
const Version = "1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// Re-export the core types so callers need only import this package for the
// common case.
type (
	// Header is the per-message envelope metadata.
	Header = frame.Header

	// Status classifies a Header's role.
	Status = frame.Status

	// Serializer marshals and unmarshals a Header.
	Serializer = frame.Serializer

	// SessionConfig is the per-connection configuration shared by Server and
	// Client: TLS, auth, idle timeout, keepalive, serializer, logger.
	SessionConfig = session.Config

	// KeepAlive carries TCP keepalive knobs.
	KeepAlive = session.KeepAlive

	// Handlers bundles the application's event callbacks.
	Handlers = session.Handlers

	// Session is one accepted-or-dialed connection and its framing state.
	Session = session.Session

	// SessionState is a Connection Session lifecycle stage.
	SessionState = session.State

	// DisconnectReason classifies why a session was torn down.
	DisconnectReason = session.DisconnectReason

	// Stats holds one session's atomic traffic counters.
	Stats = session.Stats

	// StreamReader is the live reader handed to Handlers.OnStream.
	StreamReader = session.StreamReader

	// Buffer is the memory-then-disk spool returned by StreamReader.Drain.
	Buffer = buffer.Buffer

	// Server accepts and manages many client sessions.
	Server = server.Server

	// ServerConfig configures a Server.
	ServerConfig = server.Config

	// Client drives a single outbound session, with optional proxying and
	// auto-reconnect.
	Client = client.Client

	// ClientConfig configures a Client.
	ClientConfig = client.Config

	// ProxyConfig describes an optional upstream proxy hop.
	ProxyConfig = client.ProxyConfig
)

// Re-export the Status constants for convenience.
const (
	StatusNormal        = frame.StatusNormal
	StatusSuccess       = frame.StatusSuccess
	StatusFailure       = frame.StatusFailure
	StatusAuthRequired  = frame.StatusAuthRequired
	StatusAuthRequested = frame.StatusAuthRequested
	StatusAuthSuccess   = frame.StatusAuthSuccess
	StatusAuthFailure   = frame.StatusAuthFailure
	StatusRemoved       = frame.StatusRemoved
	StatusShutdown      = frame.StatusShutdown
	StatusTimeout       = frame.StatusTimeout
	StatusHeartbeat     = frame.StatusHeartbeat
)

// Re-export the DisconnectReason constants.
const (
	ReasonNormal      = session.ReasonNormal
	ReasonRemoved     = session.ReasonRemoved
	ReasonKicked      = session.ReasonKicked
	ReasonTimeout     = session.ReasonTimeout
	ReasonAuthFailure = session.ReasonAuthFailure
	ReasonShutdown    = session.ReasonShutdown
	ReasonUnknown     = session.ReasonUnknown
)

// Re-export the SessionState constants.
const (
	StateIdle           = session.StateIdle
	StateConnecting     = session.StateConnecting
	StateHandshaking    = session.StateHandshaking
	StateAuthenticating = session.StateAuthenticating
	StateEstablished    = session.StateEstablished
	StateDraining       = session.StateDraining
	StateClosed         = session.StateClosed
)

// NewServer returns a Server bound to addr (not yet listening; call
// Start to begin accepting connections).
func NewServer(addr string, cfg ServerConfig) *Server {
	return server.New(addr, cfg)
}

// NewClient returns a Client targeting addr (not yet connected; call
// Connect to dial).
func NewClient(addr string, cfg ClientConfig) *Client {
	return client.New(addr, cfg)
}

// ParseProxyURL parses a proxy URL string ("http://", "https://", or
// "socks5://", optionally with user:pass@) into a ProxyConfig for use in
// ClientConfig.Proxy.
func ParseProxyURL(proxyURL string) (*ProxyConfig, error) {
	return client.ParseProxyURL(proxyURL)
}
