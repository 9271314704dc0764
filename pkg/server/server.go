// Package server implements the listener, client registry, idle sweeper,
// and broadcast helpers described as the Server component.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/corewire/tcpmsg/pkg/constants"
	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/handshake"
	"github.com/corewire/tcpmsg/pkg/session"
	"github.com/corewire/tcpmsg/pkg/syncrouter"
)

// Config bundles everything a Server needs beyond the bind address: the
// per-session configuration applied to every accepted connection, the
// application's event handlers, and the idle-sweep period.
type Config struct {
	Session           session.Config
	Handlers          session.Handlers
	IdleSweepInterval time.Duration
	Logger            *logrus.Logger
}

// Server owns a listener, a GUID-and-address-indexed client registry, and
// the idle sweeper. The registry structure mirrors the teacher's
// Transport.hostPools sync.Map, keyed here by client GUID with a secondary
// IpPort index, and the sweeper mirrors Transport.cleanupIdleConnections.
type Server struct {
	addr string
	cfg  Config

	listener net.Listener
	router   *syncrouter.Router

	byGUID sync.Map // guid -> *session.Session
	byAddr sync.Map // ip:port -> *session.Session

	startMu sync.Mutex
	running bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Server bound to addr (not yet listening).
func New(addr string, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.IdleSweepInterval <= 0 {
		cfg.IdleSweepInterval = constants.IdleSweepInterval
	}
	return &Server{
		addr:   addr,
		cfg:    cfg,
		router: syncrouter.New(),
	}
}

// Start binds the listener and begins accepting connections. It is
// idempotent only while already listening; calling Start again after Stop
// is allowed and rebinds the listener.
func (srv *Server) Start() error {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()

	if srv.running {
		return nil
	}

	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return errors.NewConnectionError(srv.addr, err)
	}

	srv.listener = ln
	srv.stopCh = make(chan struct{})
	srv.router = syncrouter.New()
	srv.running = true

	srv.router.StartSweeper(constants.ExpirySweepInterval)

	srv.wg.Add(2)
	go srv.acceptLoop()
	go srv.idleSweepLoop()

	return nil
}

// Stop closes the listener, disconnects every client with reason Shutdown,
// and halts the background sweepers.
func (srv *Server) Stop() error {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()

	if !srv.running {
		return nil
	}
	srv.running = false

	close(srv.stopCh)
	err := srv.listener.Close()
	srv.wg.Wait()

	srv.DisconnectClients(session.ReasonShutdown)
	srv.router.Stop()

	return err
}

// Addr returns the bound listener's address, valid once Start has
// succeeded.
func (srv *Server) Addr() net.Addr {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.stopCh:
				return
			default:
				srv.cfg.Logger.WithError(err).Warn("accept failed")
				return
			}
		}
		// Setup runs concurrently so a slow handshake never blocks the
		// accept loop from taking the next connection.
		go srv.handleAccept(conn)
	}
}

func (srv *Server) handleAccept(conn net.Conn) {
	guid := handshake.NewClientGuid()

	sess := session.New(conn, guid, true, srv.cfg.Session, srv.router, session.Handlers{})
	handlers := srv.wrapHandlers(sess)
	sess.SetHandlers(handlers)

	srv.byGUID.Store(guid, sess)
	srv.byAddr.Store(sess.IpPort(), sess)

	sess.Run(context.Background())
}

// wrapHandlers layers registry cleanup onto the application's handlers:
// whatever OnDisconnect the application supplied still fires, but only
// after this client has been removed from both registry indices.
func (srv *Server) wrapHandlers(sess *session.Session) session.Handlers {
	h := srv.cfg.Handlers
	appDisconnect := h.OnDisconnect
	h.OnDisconnect = func(s *session.Session, reason session.DisconnectReason) {
		srv.unregister(sess)
		if appDisconnect != nil {
			appDisconnect(s, reason)
		}
	}
	return h
}

func (srv *Server) unregister(sess *session.Session) {
	srv.byGUID.Delete(sess.GUID())
	srv.byAddr.Delete(sess.IpPort())
}

func (srv *Server) idleSweepLoop() {
	defer srv.wg.Done()
	if srv.cfg.Session.IdleTimeout <= 0 {
		<-srv.stopCh
		return
	}

	ticker := time.NewTicker(srv.cfg.IdleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			srv.sweepIdle()
		case <-srv.stopCh:
			return
		}
	}
}

func (srv *Server) sweepIdle() {
	srv.byGUID.Range(func(_, v any) bool {
		sess := v.(*session.Session)
		if sess.IdleFor() > srv.cfg.Session.IdleTimeout {
			sess.Close(session.ReasonTimeout)
		}
		return true
	})
}

// ListClients returns the GUIDs of every currently registered client.
func (srv *Server) ListClients() []string {
	var guids []string
	srv.byGUID.Range(func(k, _ any) bool {
		guids = append(guids, k.(string))
		return true
	})
	return guids
}

// SendTo writes payload to the client identified by guid, synchronously.
func (srv *Server) SendTo(guid string, header *frame.Header, payload []byte) error {
	v, ok := srv.byGUID.Load(guid)
	if !ok {
		return errors.NewNotFoundError(guid)
	}
	return v.(*session.Session).Send(header, payload)
}

// SendAndWaitTo issues a synchronous request/response exchange with one
// specific client.
func (srv *Server) SendAndWaitTo(guid string, timeout time.Duration, payload []byte, metadata map[string]any) (*frame.Header, []byte, error) {
	v, ok := srv.byGUID.Load(guid)
	if !ok {
		return nil, nil, errors.NewNotFoundError(guid)
	}
	return v.(*session.Session).SendAndWait(timeout, payload, metadata)
}

// Broadcast sends payload to every connected client, best-effort: a send
// failure to one client does not stop delivery to the others.
func (srv *Server) Broadcast(header *frame.Header, payload []byte) {
	srv.byGUID.Range(func(_, v any) bool {
		sess := v.(*session.Session)
		go func() {
			if err := sess.Send(cloneHeader(header), payload); err != nil {
				srv.cfg.Logger.WithError(err).WithField("guid", sess.GUID()).Debug("broadcast send failed")
			}
		}()
		return true
	})
}

// DisconnectClient closes one client's session with the given reason.
func (srv *Server) DisconnectClient(guid string, reason session.DisconnectReason) error {
	v, ok := srv.byGUID.Load(guid)
	if !ok {
		return errors.NewNotFoundError(guid)
	}
	v.(*session.Session).Close(reason)
	return nil
}

// DisconnectClients closes every currently registered client's session.
func (srv *Server) DisconnectClients(reason session.DisconnectReason) {
	srv.byGUID.Range(func(_, v any) bool {
		v.(*session.Session).Close(reason)
		return true
	})
}

func cloneHeader(h *frame.Header) *frame.Header {
	cp := *h
	cp.ConvGuid = "" // Send mints a fresh ConvGuid per recipient
	return &cp
}
