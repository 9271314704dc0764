package session

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
)

// Send writes one envelope, serializing it against any other concurrent
// sender on this connection. The send lock is held across prefix, header,
// and payload so no two messages' bytes ever interleave on the wire.
func (s *Session) Send(header *frame.Header, payload []byte) error {
	if s.Closed() {
		return errors.NewNotConnectedError(s.ipPort)
	}
	if header.ConvGuid == "" {
		header.ConvGuid = frame.NewConvGuid()
	}
	header.Len = int64(len(payload))
	if header.SenderTime.IsZero() {
		header.SenderTime = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := frame.WriteEnvelope(s.conn, s.cfg.Serializer, header, bytes.NewReader(payload)); err != nil {
		return err
	}

	atomic.AddInt64(&s.stats.BytesSent, header.Len)
	atomic.AddInt64(&s.stats.MessagesSent, 1)
	return nil
}

// SendAsync fires Send in a new goroutine and reports any error through
// OnException rather than to the caller. A failed write does not close the
// session and is not logged.
func (s *Session) SendAsync(header *frame.Header, payload []byte) {
	go func() {
		if err := s.Send(header, payload); err != nil && s.handlers.OnException != nil {
			s.handlers.OnException(s, err)
		}
	}()
}

// SendAndWait sends a SyncReq=true frame and parks the caller until a
// matching SyncResp arrives, the timeout elapses, or the connection tears
// down — whichever happens first. The waiter is always unregistered before
// returning.
func (s *Session) SendAndWait(timeout time.Duration, payload []byte, metadata map[string]any) (*frame.Header, []byte, error) {
	if s.Closed() {
		return nil, nil, errors.NewNotConnectedError(s.ipPort)
	}

	guid := frame.NewConvGuid()
	deadline := time.Now().Add(timeout)

	header := &frame.Header{
		ConvGuid:   guid,
		Status:     frame.StatusNormal,
		SyncReq:    true,
		Expiration: deadline.UTC(),
		Metadata:   metadata,
	}

	waiter := s.router.Register(guid, s.guid, deadline)
	if err := s.Send(header, payload); err != nil {
		s.router.Unregister(guid)
		return nil, nil, err
	}

	res := waiter.Wait()
	s.router.Unregister(guid)
	if res.Err != nil {
		return nil, nil, res.Err
	}
	return res.Header, res.Payload, nil
}
