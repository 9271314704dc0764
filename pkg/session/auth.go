package session

import (
	"time"

	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
	"github.com/corewire/tcpmsg/pkg/handshake"
)

// serverBeginAuth sends the initial AuthRequired frame that kicks off the
// preshared-key exchange. Subsequent frames are handled inline by the
// receive loop's normal classification, per the auth-namespace dispatch
// rule.
func (s *Session) serverBeginAuth() error {
	return s.Send(&frame.Header{Status: frame.StatusAuthRequired}, nil)
}

// handleAuthFrame processes one auth-namespace frame. It returns false when
// the session has already been closed as a result (auth failure, or a
// protocol violation during the handshake).
func (s *Session) handleAuthFrame(header *frame.Header) bool {
	if s.isServer {
		return s.handleServerAuthFrame(header)
	}
	return s.handleClientAuthFrame(header)
}

func (s *Session) handleServerAuthFrame(header *frame.Header) bool {
	if header.Status != frame.StatusAuthRequested {
		s.reportException(errors.NewAuthError("handshake", "unexpected auth frame from client", nil))
		s.Close(ReasonUnknown)
		return false
	}

	if handshake.KeysMatch(s.cfg.PresharedKey, header.PresharedKey) {
		s.timer.EndAuth()
		s.setState(StateEstablished)
		if err := s.Send(&frame.Header{Status: frame.StatusAuthSuccess}, nil); err != nil {
			s.reportException(err)
			s.Close(ReasonUnknown)
			return false
		}
		if s.handlers.OnConnect != nil {
			s.handlers.OnConnect(s)
		}
		if s.handlers.OnAuthSucceeded != nil {
			s.handlers.OnAuthSucceeded(s)
		}
		return true
	}

	_ = s.Send(&frame.Header{Status: frame.StatusAuthFailure}, nil)
	if s.handlers.OnAuthFailed != nil {
		s.handlers.OnAuthFailed(s)
	}
	s.Close(ReasonAuthFailure)
	return false
}

func (s *Session) handleClientAuthFrame(header *frame.Header) bool {
	switch header.Status {
	case frame.StatusAuthRequired:
		key := s.cfg.PresharedKey
		if s.handlers.OnAuthRequested != nil {
			key = s.handlers.OnAuthRequested(s)
		}
		resp := &frame.Header{
			Status:       frame.StatusAuthRequested,
			PresharedKey: key,
			SenderTime:   time.Now().UTC(),
		}
		if err := s.Send(resp, nil); err != nil {
			s.reportException(err)
			s.Close(ReasonUnknown)
			return false
		}
		return true

	case frame.StatusAuthSuccess:
		s.timer.EndAuth()
		s.setState(StateEstablished)
		if s.handlers.OnConnect != nil {
			s.handlers.OnConnect(s)
		}
		if s.handlers.OnAuthSucceeded != nil {
			s.handlers.OnAuthSucceeded(s)
		}
		return true

	case frame.StatusAuthFailure:
		if s.handlers.OnAuthFailed != nil {
			s.handlers.OnAuthFailed(s)
		}
		s.Close(ReasonAuthFailure)
		return false

	default:
		s.reportException(errors.NewAuthError("handshake", "unexpected auth frame from server", nil))
		s.Close(ReasonUnknown)
		return false
	}
}
