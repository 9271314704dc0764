// Package session implements the Connection Session state machine: the
// per-connection socket, optional TLS, receive loop, serialized sends,
// idle timer, keepalive knobs, and statistics counters shared by both
// Server-accepted and Client-initiated connections.
package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corewire/tcpmsg/pkg/buffer"
	"github.com/corewire/tcpmsg/pkg/constants"
	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/syncrouter"
	"github.com/corewire/tcpmsg/pkg/timing"
)

// State is a Connection Session lifecycle stage.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateAuthenticating
	StateEstablished
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateAuthenticating:
		return "Authenticating"
	case StateEstablished:
		return "Established"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// DisconnectReason classifies why a session was torn down.
type DisconnectReason string

const (
	ReasonNormal      DisconnectReason = "Normal"
	ReasonRemoved     DisconnectReason = "Removed"
	ReasonKicked      DisconnectReason = "Kicked"
	ReasonTimeout     DisconnectReason = "Timeout"
	ReasonAuthFailure DisconnectReason = "AuthFailure"
	ReasonShutdown    DisconnectReason = "Shutdown"
	ReasonUnknown     DisconnectReason = "UnknownError"
)

// KeepAlive carries the TCP-level keepalive knobs applied to the accepted
// or connected socket; never to the listener.
type KeepAlive struct {
	Enable     bool
	Time       time.Duration
	Interval   time.Duration
	RetryCount int
}

// Config is the immutable per-session configuration, taken from the Session
// field of the owning ServerConfig or ClientConfig.
type Config struct {
	TLS                  *tls.Config
	MutuallyAuthenticate bool
	PresharedKey         string
	IdleTimeout          time.Duration
	MaxProxiedStreamSize int64
	KeepAlive            KeepAlive
	NoDelay              bool
	ConnectTimeout       time.Duration
	Serializer           frame.Serializer
	Logger               *logrus.Logger
}

// Stats holds the atomic counters tracked for one session.
type Stats struct {
	BytesSent        int64
	BytesReceived    int64
	MessagesSent     int64
	MessagesReceived int64
}

// Handlers bundles the application callbacks a Session dispatches into.
// All fields are optional; a nil handler is simply skipped.
type Handlers struct {
	OnConnect       func(s *Session)
	OnMessage       func(s *Session, header *frame.Header, payload []byte)
	OnStream        func(s *Session, header *frame.Header, strm StreamReader)
	OnSyncRequest   func(s *Session, header *frame.Header, payload []byte) (respPayload []byte, respMetadata map[string]any, err error)
	OnAuthRequested func(s *Session) (presharedKey string)
	OnAuthSucceeded func(s *Session)
	OnAuthFailed    func(s *Session)
	OnDisconnect    func(s *Session, reason DisconnectReason)
	OnException     func(s *Session, err error)
}

// firePanic recovers a panicking user handler, reporting it through
// OnException instead of letting it kill the receive loop, per the
// application-error policy: a user-handler fault must not tear down other
// connections' delivery.
func (h Handlers) firePanic(s *Session) {
	if r := recover(); r != nil {
		if h.OnException != nil {
			if err, ok := r.(error); ok {
				h.OnException(s, err)
			} else {
				h.OnException(s, errors.NewProtocolError("handler", "panic in user handler", nil))
			}
		}
	}
}

// StreamReader is the subset of pkg/stream.Stream the session hands to
// OnStream; declared here to avoid a dependency cycle (pkg/stream does not
// import pkg/session).
type StreamReader interface {
	Read(p []byte) (int, error)
	BytesRemaining() int64
	Drained() bool
	Discard() error

	// Drain spools the remainder into a buffer.Buffer, spilling to disk
	// above limit bytes of memory, for handlers that want the whole
	// payload addressable (e.g. to hash or forward it to disk) without
	// hand-rolling their own spill-to-temp-file logic.
	Drain(limit int64) (*buffer.Buffer, error)
}

// Session is one TCP (optionally TLS) connection and its framing state.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	guid     string
	ipPort   string
	isServer bool

	cfg      Config
	router   *syncrouter.Router
	handlers Handlers
	timer    *timing.Timer

	state        int32
	lastActivity int64 // unix nanoseconds, atomic

	stats Stats

	writeMu sync.Mutex

	// msgQueue serializes MessageReceived dispatch onto a dedicated
	// goroutine so a slow OnMessage handler stalls only this connection's
	// own callback ordering, never the receive loop or other sessions.
	msgQueue chan func()

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an already-dialed-or-accepted net.Conn as a Session. isServer
// selects which side of the preshared-key handshake this session drives.
func New(conn net.Conn, guid string, isServer bool, cfg Config, router *syncrouter.Router, handlers Handlers) *Session {
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = frame.DefaultSerializer()
	}
	if cfg.MaxProxiedStreamSize == 0 {
		cfg.MaxProxiedStreamSize = constants.DefaultMaxProxiedStreamSize
	}

	s := &Session{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		guid:     guid,
		ipPort:   conn.RemoteAddr().String(),
		isServer: isServer,
		cfg:      cfg,
		router:   router,
		handlers: handlers,
		timer:    timing.NewTimer(),
		closed:   make(chan struct{}),
		msgQueue: make(chan func(), constants.MessageQueueDepth),
	}
	s.setState(StateConnecting)
	s.touch()
	applyKeepAlive(conn, cfg.KeepAlive, cfg.NoDelay)
	go s.runMessageWorker()
	return s
}

// runMessageWorker drains msgQueue in FIFO order for the life of the
// session, preserving this connection's receive order for MessageReceived
// callbacks even though fireMessage no longer blocks the receive loop.
func (s *Session) runMessageWorker() {
	for {
		select {
		case fn := <-s.msgQueue:
			fn()
		case <-s.closed:
			return
		}
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// applyKeepAlive sets TCP keepalive knobs on the accepted/connected socket.
// Grounded on Transport.connectTCP's SetKeepAlive/SetKeepAlivePeriod, with
// interval and retry-count support layered on via net.KeepAliveConfig when
// either is set; if the platform rejects that, only the keepalive period is
// applied. Platforms without a keepalive API leave the option inert.
func applyKeepAlive(conn net.Conn, ka KeepAlive, noDelay bool) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if noDelay {
		tcpConn.SetNoDelay(true)
	}
	if !ka.Enable {
		return
	}
	if ka.Interval > 0 || ka.RetryCount > 0 {
		kaCfg := net.KeepAliveConfig{Enable: true, Idle: ka.Time, Interval: ka.Interval, Count: ka.RetryCount}
		if err := tcpConn.SetKeepAliveConfig(kaCfg); err == nil {
			return
		}
	}
	_ = tcpConn.SetKeepAlive(true)
	if ka.Time > 0 {
		_ = tcpConn.SetKeepAlivePeriod(ka.Time)
	}
}

// SetHandlers replaces the session's event handlers. Must only be called
// before Run starts the receive loop.
func (s *Session) SetHandlers(h Handlers) {
	s.handlers = h
}

// GUID returns the session's stable client identity.
func (s *Session) GUID() string { return s.guid }

// IpPort returns the peer's observational address.
func (s *Session) IpPort() string { return s.ipPort }

// State returns the session's current lifecycle stage.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

// Stats returns an eventually-consistent snapshot of the session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		BytesSent:        atomic.LoadInt64(&s.stats.BytesSent),
		BytesReceived:    atomic.LoadInt64(&s.stats.BytesReceived),
		MessagesSent:     atomic.LoadInt64(&s.stats.MessagesSent),
		MessagesReceived: atomic.LoadInt64(&s.stats.MessagesReceived),
	}
}

// ConnectMetrics returns the TCP/TLS/auth timing breakdown for this
// session's setup.
func (s *Session) ConnectMetrics() timing.Metrics {
	return s.timer.GetMetrics()
}

// RecordDialDuration records the TCP connect time measured by the caller
// before this Session existed (the dial necessarily happens before New, and
// thus before the Session's own Timer starts).
func (s *Session) RecordDialDuration(d time.Duration) {
	s.timer.RecordTCP(d)
}

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

func (s *Session) lastActivityTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

// IdleFor returns how long it has been since the last inbound message was
// received on this session. Sending does not reset it, matching the
// idle-sweep rule that only receipt counts as activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.lastActivityTime())
}

// UpgradeTLS performs the TLS handshake over the raw connection, replacing
// the session's conn and reader with the TLS-wrapped versions. Structurally
// adapted from Transport.upgradeTLS: context-bounded HandshakeContext,
// explicit timing capture, original socket closed on failure to avoid a
// descriptor leak.
func (s *Session) UpgradeTLS(ctx context.Context) error {
	if s.cfg.TLS == nil {
		return nil
	}
	s.setState(StateHandshaking)
	s.timer.StartTLS()
	defer s.timer.EndTLS()

	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tlsConn *tls.Conn
	if s.isServer {
		serverTLS := s.cfg.TLS
		if s.cfg.MutuallyAuthenticate {
			serverTLS = serverTLS.Clone()
			serverTLS.ClientAuth = tls.RequireAndVerifyClientCert
		}
		tlsConn = tls.Server(s.conn, serverTLS)
	} else {
		tlsConn = tls.Client(s.conn, s.cfg.TLS)
	}

	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		s.conn.Close()
		return errors.NewTLSError(s.ipPort, err)
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	return nil
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close tears the session down exactly once: it cancels the connection,
// drains every sync waiter this session owns, and fires OnDisconnect.
func (s *Session) Close(reason DisconnectReason) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.closed)
		s.conn.Close()
		if s.router != nil {
			s.router.DrainForConnection(s.guid)
		}
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(s, reason)
		}
	})
}
