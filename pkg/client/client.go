// Package client implements the single outbound Connection Session with
// connect-timeout enforcement, optional upstream proxy tunneling, and
// bounded auto-reconnect.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corewire/tcpmsg/pkg/constants"
	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/handshake"
	"github.com/corewire/tcpmsg/pkg/session"
	"github.com/corewire/tcpmsg/pkg/syncrouter"
)

// Config bundles a Client's per-session configuration, application
// handlers, optional upstream proxy, and reconnect policy.
type Config struct {
	Session  session.Config
	Handlers session.Handlers
	Proxy    *ProxyConfig

	AutoReconnect  bool
	MaxRetries     int
	ReconnectDelay time.Duration

	Logger *logrus.Logger
}

// Client is a single outbound session to one server address.
type Client struct {
	addr string
	cfg  Config

	router *syncrouter.Router

	mu   sync.Mutex
	sess *session.Session

	manualDisconnect int32 // atomic bool
	guid             string
}

// New creates a Client targeting addr (not yet connected).
func New(addr string, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{
		addr:   addr,
		cfg:    cfg,
		router: syncrouter.New(),
	}
}

// Connect dials the server (through the proxy, if one is configured) and
// starts the receive loop. It returns once the TCP connection is up; the
// TLS upgrade and the preshared-key exchange then run on the receive loop,
// so their failures reach the handlers (OnException, OnAuthFailed,
// OnDisconnect) rather than Connect's return value. The TLS handshake is
// bounded by Session.ConnectTimeout; the preshared-key exchange has no
// timeout of its own.
func (c *Client) Connect(ctx context.Context) error {
	if err := handshake.ValidateMutualAuthConfig(c.cfg.Session.MutuallyAuthenticate, hasClientCertificate(c.cfg.Session)); err != nil {
		return err
	}

	c.router.StartSweeper(constants.ExpirySweepInterval)

	dialStart := time.Now()
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	dialDuration := time.Since(dialStart)

	c.guid = handshake.NewClientGuid()
	handlers := c.wrapHandlers(c.cfg.Handlers)
	sess := session.New(conn, c.guid, false, c.cfg.Session, c.router, handlers)
	sess.RecordDialDuration(dialDuration)

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	go sess.Run(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	timeout := c.cfg.Session.ConnectTimeout
	if timeout <= 0 {
		timeout = constants.DefaultConnTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.cfg.Proxy != nil {
		return dialViaProxy(dialCtx, c.cfg.Proxy, c.addr)
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		return nil, errors.NewConnectionError(c.addr, err)
	}
	return conn, nil
}

func hasClientCertificate(cfg session.Config) bool {
	return cfg.TLS != nil && len(cfg.TLS.Certificates) > 0
}

// wrapHandlers layers the auto-reconnect trigger onto the application's
// OnDisconnect: when AutoReconnect is set and Disconnect(true) has not been
// called, any disconnect whose reason is not ReasonShutdown restarts the
// reconnect loop.
func (c *Client) wrapHandlers(h session.Handlers) session.Handlers {
	appDisconnect := h.OnDisconnect
	h.OnDisconnect = func(s *session.Session, reason session.DisconnectReason) {
		if appDisconnect != nil {
			appDisconnect(s, reason)
		}
		if c.shouldReconnect(reason) {
			go c.reconnectLoop()
		}
	}
	return h
}

func (c *Client) shouldReconnect(reason session.DisconnectReason) bool {
	if !c.cfg.AutoReconnect {
		return false
	}
	if atomic.LoadInt32(&c.manualDisconnect) == 1 {
		return false
	}
	return reason != session.ReasonShutdown
}

// reconnectLoop attempts up to MaxRetries reconnections (without limit when
// MaxRetries is zero or negative) with a fixed inter-attempt delay, replaying TLS and preshared-key handshake on each
// attempt via a fresh Connect. On success the session's own first-
// established path fires ServerConnected semantics identically to a
// first-time connect.
func (c *Client) reconnectLoop() {
	for attempt := 1; c.cfg.MaxRetries <= 0 || attempt <= c.cfg.MaxRetries; attempt++ {
		if atomic.LoadInt32(&c.manualDisconnect) == 1 {
			return
		}
		time.Sleep(c.cfg.ReconnectDelay)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Session.ConnectTimeout+c.cfg.ReconnectDelay)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		c.cfg.Logger.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
	}
}

// Disconnect tears down the current session. If disableAutoReconnect is
// true, no further reconnect attempts will run until Connect is called
// again explicitly.
func (c *Client) Disconnect(disableAutoReconnect bool) {
	if disableAutoReconnect {
		atomic.StoreInt32(&c.manualDisconnect, 1)
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.Close(session.ReasonNormal)
	}
}

func (c *Client) currentSession() (*session.Session, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil || sess.Closed() {
		return nil, errors.NewNotConnectedError(c.addr)
	}
	return sess, nil
}

// Send writes one fire-and-forget message.
func (c *Client) Send(header *frame.Header, payload []byte) error {
	sess, err := c.currentSession()
	if err != nil {
		return err
	}
	return sess.Send(header, payload)
}

// SendAsync fires Send without blocking the caller on the result.
func (c *Client) SendAsync(header *frame.Header, payload []byte) {
	sess, err := c.currentSession()
	if err != nil {
		if c.cfg.Handlers.OnException != nil {
			c.cfg.Handlers.OnException(nil, err)
		}
		return
	}
	sess.SendAsync(header, payload)
}

// SendAndWait issues a synchronous request/response exchange with the
// server.
func (c *Client) SendAndWait(timeout time.Duration, payload []byte, metadata map[string]any) (*frame.Header, []byte, error) {
	sess, err := c.currentSession()
	if err != nil {
		return nil, nil, err
	}
	return sess.SendAndWait(timeout, payload, metadata)
}

// Stats returns the current session's counters, or a zero value if not
// connected.
func (c *Client) Stats() session.Stats {
	sess, err := c.currentSession()
	if err != nil {
		return session.Stats{}
	}
	return sess.Stats()
}

// GUID returns the identity this client minted for its session on the most
// recent Connect. It is generated locally; the server mints its own,
// separate GUID for the session it accepts.
func (c *Client) GUID() string {
	return c.guid
}
