package frame

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/corewire/tcpmsg/pkg/constants"
	"github.com/corewire/tcpmsg/pkg/errors"
)

// NewConvGuid mints a fresh conversation identifier.
func NewConvGuid() string {
	return uuid.New().String()
}

// WriteEnvelope writes "<decimal-len> <header-json><payload>" to w. payload
// may be nil only when header.Len is 0. The payload source must yield
// exactly header.Len bytes; a short read is reported as a protocol error
// rather than silently truncating the frame.
func WriteEnvelope(w io.Writer, ser Serializer, header *Header, payload io.Reader) error {
	headerBytes, err := ser.Marshal(header)
	if err != nil {
		return errors.NewProtocolError("encode", "failed to marshal header", err)
	}

	prefix := strconv.Itoa(len(headerBytes)) + " "
	if _, err := io.WriteString(w, prefix); err != nil {
		return errors.NewIOError("write header prefix", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errors.NewIOError("write header", err)
	}

	if header.Len == 0 {
		return nil
	}
	if payload == nil {
		return errors.NewProtocolError("encode", "non-zero Len with nil payload reader", nil)
	}

	n, err := io.CopyN(w, payload, header.Len)
	if err != nil {
		if err == io.EOF {
			return errors.NewProtocolError("encode", fmt.Sprintf("payload source yielded %d of %d declared bytes", n, header.Len), err)
		}
		return errors.NewIOError("write payload", err)
	}
	return nil
}

// ReadHeader reads and decodes the next envelope header from r: the decimal
// length prefix, the space, and exactly that many header bytes. It does not
// read the payload — callers pull Header.Len bytes themselves (see
// pkg/stream.New). A read==0 mid-frame, or a read-not-yet-begun EOF, are
// both distinguished: a clean EOF before any byte of the next frame is
// returned as io.EOF so callers can tell "no more frames" from desync.
func ReadHeader(r *bufio.Reader, ser Serializer) (*Header, error) {
	lengthStr, err := r.ReadString(' ')
	if err != nil {
		if err == io.EOF && lengthStr == "" {
			return nil, io.EOF
		}
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return nil, err
		}
		return nil, errors.NewDesyncError("read-prefix", "connection closed mid-prefix")
	}
	lengthStr = lengthStr[:len(lengthStr)-1] // drop trailing space

	headerLen, err := strconv.Atoi(lengthStr)
	if err != nil {
		return nil, errors.NewProtocolError("decode", fmt.Sprintf("malformed length prefix %q", lengthStr), err)
	}
	if headerLen < 1 {
		return nil, errors.NewProtocolError("decode", fmt.Sprintf("non-positive header length %d", headerLen), nil)
	}
	if headerLen > constants.MaxHeaderBytes {
		return nil, errors.NewProtocolError("decode", fmt.Sprintf("header length %d exceeds max %d", headerLen, constants.MaxHeaderBytes), nil)
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.NewDesyncError("read-header", "connection closed mid-header")
	}

	var header Header
	if err := ser.Unmarshal(headerBytes, &header); err != nil {
		return nil, errors.NewProtocolError("decode", "invalid header JSON", err)
	}

	if header.Len < 0 {
		return nil, errors.NewProtocolError("decode", "negative Len field", nil)
	}
	if !header.Status.Valid() {
		return nil, errors.NewProtocolError("decode", fmt.Sprintf("invalid status %q", header.Status), nil)
	}
	if header.SyncReq && header.SyncResp {
		return nil, errors.NewProtocolError("decode", "SyncReq and SyncResp both set", nil)
	}
	if header.ConvGuid == "" {
		return nil, errors.NewProtocolError("decode", "missing ConvGuid", nil)
	}

	return &header, nil
}
