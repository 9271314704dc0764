// Package stream implements the Framed Stream: a bounded read-only view
// over a shared connection reader that exposes exactly one message's
// payload and never touches the socket past that boundary.
package stream

import (
	"bufio"
	"io"
	"sync/atomic"

	"github.com/corewire/tcpmsg/pkg/buffer"
	"github.com/corewire/tcpmsg/pkg/errors"
)

// Stream exposes exactly Len bytes of the underlying reader. Reading past
// the boundary returns io.EOF without consuming further socket bytes.
// Stream is single-reader: concurrent Read calls are not supported, matching
// the receive loop's invariant that at most one consumer owns the stream at
// a time.
type Stream struct {
	r         *bufio.Reader
	remaining int64
	total     int64
	drained   int32 // atomic bool, set once remaining reaches 0
}

// New wraps r to expose exactly length bytes.
func New(r *bufio.Reader, length int64) *Stream {
	s := &Stream{r: r, remaining: length, total: length}
	if length == 0 {
		atomic.StoreInt32(&s.drained, 1)
	}
	return s
}

// Len returns the stream's total declared length.
func (s *Stream) Len() int64 {
	return s.total
}

// BytesRemaining returns the number of payload bytes not yet read.
func (s *Stream) BytesRemaining() int64 {
	return atomic.LoadInt64(&s.remaining)
}

// Drained reports whether the stream has been fully read.
func (s *Stream) Drained() bool {
	return atomic.LoadInt32(&s.drained) == 1
}

// Read implements io.Reader, bounding reads to BytesRemaining.
func (s *Stream) Read(p []byte) (int, error) {
	remaining := atomic.LoadInt64(&s.remaining)
	if remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.r.Read(p)
	if n > 0 {
		left := atomic.AddInt64(&s.remaining, -int64(n))
		if left == 0 {
			atomic.StoreInt32(&s.drained, 1)
		}
	}
	if err == io.EOF && n == 0 && atomic.LoadInt64(&s.remaining) > 0 {
		// The peer closed before delivering the bytes it declared: this is
		// a desync, not a clean end of stream.
		return n, errors.NewDesyncError("stream-read", "connection closed before payload fully delivered")
	}
	return n, err
}

// Discard reads and throws away any bytes the caller left undrained,
// restoring the connection's framing before the receive loop resumes. It is
// a no-op once Drained.
func (s *Stream) Discard() error {
	if s.Drained() {
		return nil
	}
	remaining := atomic.LoadInt64(&s.remaining)
	n, err := io.CopyN(io.Discard, s, remaining)
	if err != nil && err != io.EOF {
		return errors.NewIOError("discard stream remainder", err)
	}
	if n != remaining {
		return errors.NewDesyncError("discard", "could not restore frame boundary")
	}
	return nil
}

// Drain spools the remainder of the stream into a buffer.Buffer, spilling to
// disk above limit bytes of memory. This is a convenience for callers that
// would otherwise hand-roll an io.Copy into a growing byte slice; it is not
// required by any stream invariant.
func (s *Stream) Drain(limit int64) (*buffer.Buffer, error) {
	buf := buffer.New(limit)
	if _, err := io.Copy(buf, s); err != nil {
		buf.Close()
		return nil, err
	}
	return buf, nil
}
