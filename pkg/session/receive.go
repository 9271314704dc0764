package session

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/stream"
)

// Run drives the session's receive loop until the connection closes or ctx
// is cancelled. It performs the initial TLS upgrade and preshared-key
// handshake, then decodes and dispatches frames one at a time, honoring the
// Framed Stream invariant that the loop is blocked while a stream handler
// owns the socket.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		if !s.Closed() {
			s.Close(ReasonUnknown)
		}
	}()

	if err := s.UpgradeTLS(ctx); err != nil {
		s.reportException(err)
		s.Close(ReasonUnknown)
		return
	}

	if s.requiresAuth() {
		s.setState(StateAuthenticating)
		s.timer.StartAuth()
		if s.isServer {
			if err := s.serverBeginAuth(); err != nil {
				s.reportException(err)
				s.Close(ReasonAuthFailure)
				return
			}
		}
	} else {
		s.setState(StateEstablished)
		if s.handlers.OnConnect != nil {
			s.handlers.OnConnect(s)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.Close(ReasonShutdown)
			return
		default:
		}

		if err := s.applyIdleDeadline(); err != nil {
			s.Close(ReasonTimeout)
			return
		}

		header, err := frame.ReadHeader(s.reader, s.cfg.Serializer)
		if err != nil {
			if err == io.EOF {
				s.Close(ReasonNormal)
				return
			}
			if isDeadlineExceeded(err) {
				s.Close(ReasonTimeout)
				return
			}
			s.reportException(err)
			s.Close(ReasonUnknown)
			return
		}

		s.touch()
		atomic.AddInt64(&s.stats.MessagesReceived, 1)

		if s.dispatch(header) {
			continue
		}
		return
	}
}

// dispatch classifies and handles one decoded header. It returns false when
// the session should stop looping (a fatal error already closed it).
func (s *Session) dispatch(header *frame.Header) bool {
	switch {
	case header.Status.IsAuthNamespace():
		return s.handleAuthFrame(header)
	case header.Status == frame.StatusHeartbeat:
		return true
	case header.SyncResp:
		return s.handleSyncResp(header)
	default:
		return s.handleDelivery(header)
	}
}

func (s *Session) handleSyncResp(header *frame.Header) bool {
	payload, err := s.readPayload(header)
	if err != nil {
		s.reportException(err)
		s.Close(ReasonUnknown)
		return false
	}
	// A response whose waiter already expired is dropped with a log entry
	// per the late-sync-response correctness invariant: it is always
	// consumed from the wire, never left to desync the stream.
	if !s.router.Deliver(header.ConvGuid, header, payload) {
		s.cfg.Logger.WithField("guid", header.ConvGuid).Debug("dropped late sync response")
	}
	return true
}

func (s *Session) handleDelivery(header *frame.Header) bool {
	// A SyncReq frame must always be buffered: answerSyncRequest needs the
	// whole payload in hand to invoke OnSyncRequest and write the SyncResp
	// back, something a live StreamReceived reader cannot satisfy. Without
	// this, a sync request larger than MaxProxiedStreamSize with OnStream
	// registered would route to the stream branch and never be answered,
	// stranding the caller's SendAndWait until it times out.
	useBuffer := header.SyncReq || header.Len <= s.cfg.MaxProxiedStreamSize || s.handlers.OnStream == nil

	if useBuffer {
		payload, err := s.readPayload(header)
		if err != nil {
			s.reportException(err)
			s.Close(ReasonUnknown)
			return false
		}
		atomic.AddInt64(&s.stats.BytesReceived, int64(len(payload)))

		if header.SyncReq {
			s.answerSyncRequest(header, payload)
			return true
		}
		if s.handlers.OnMessage != nil {
			s.fireMessage(header, payload)
		}
		return true
	}

	strm := stream.New(s.reader, header.Len)
	if s.handlers.OnStream != nil {
		s.fireStream(header, strm)
	}
	if err := strm.Discard(); err != nil {
		s.reportException(err)
		s.Close(ReasonUnknown)
		return false
	}
	atomic.AddInt64(&s.stats.BytesReceived, header.Len)
	return true
}

// fireMessage hands the message off to the per-session dispatch worker
// instead of calling OnMessage inline, per the MessageReceived decoupling
// rule: a slow handler must stall only this connection's own callback
// stream, never the socket read that feeds it or any other session. The
// select against s.closed keeps this from blocking forever if the session
// tears down while the queue is full.
func (s *Session) fireMessage(header *frame.Header, payload []byte) {
	task := func() {
		defer s.handlers.firePanic(s)
		s.handlers.OnMessage(s, header, payload)
	}
	select {
	case s.msgQueue <- task:
	case <-s.closed:
	}
}

func (s *Session) fireStream(header *frame.Header, strm StreamReader) {
	defer s.handlers.firePanic(s)
	s.handlers.OnStream(s, header, strm)
}

// answerSyncRequest invokes the application's SyncRequestReceived callback
// and writes its return value back as a SyncResp=true frame with the same
// ConvGuid. A request already past its Expiration when received is dropped
// without invoking the handler — the responder must not do work for a
// caller that has already stopped waiting — while a request that expires
// mid-callback is still answered, since by then the work is done; the
// sender side, not the responder, is responsible for discarding any
// response that arrives late.
func (s *Session) answerSyncRequest(header *frame.Header, payload []byte) {
	if header.Expired(time.Now().UTC()) {
		s.cfg.Logger.WithField("guid", header.ConvGuid).Debug("dropped expired sync request")
		return
	}
	if s.handlers.OnSyncRequest == nil {
		return
	}

	respPayload, respMetadata, err := s.callSyncHandler(header, payload)

	status := frame.StatusSuccess
	if err != nil {
		status = frame.StatusFailure
		if s.handlers.OnException != nil {
			s.handlers.OnException(s, err)
		}
	}

	resp := &frame.Header{
		ConvGuid:   header.ConvGuid,
		Status:     status,
		SyncResp:   true,
		SenderTime: time.Now().UTC(),
		Metadata:   respMetadata,
	}
	s.SendAsync(resp, respPayload)
}

func (s *Session) callSyncHandler(header *frame.Header, payload []byte) (respPayload []byte, respMetadata map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewProtocolError("handler", "panic in SyncRequestReceived handler", nil)
		}
	}()
	return s.handlers.OnSyncRequest(s, header, payload)
}

func (s *Session) readPayload(header *frame.Header) ([]byte, error) {
	if header.Len == 0 {
		return nil, nil
	}
	buf := make([]byte, header.Len)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, errors.NewDesyncError("read-payload", "connection closed mid-payload")
	}
	return buf, nil
}

func (s *Session) reportException(err error) {
	if s.handlers.OnException != nil {
		s.handlers.OnException(s, err)
	}
}

func (s *Session) applyIdleDeadline() error {
	if s.cfg.IdleTimeout <= 0 {
		s.conn.SetReadDeadline(time.Time{})
		return nil
	}
	deadline := s.lastActivityTime().Add(s.cfg.IdleTimeout)
	return s.conn.SetReadDeadline(deadline)
}

func isDeadlineExceeded(err error) bool {
	return errors.IsTimeoutError(err)
}

func (s *Session) requiresAuth() bool {
	return s.cfg.PresharedKey != ""
}
