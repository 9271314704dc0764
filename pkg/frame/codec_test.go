package frame

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriteEnvelopeReadHeaderRoundTrip(t *testing.T) {
	ser := DefaultSerializer()
	header := &Header{
		ConvGuid: NewConvGuid(),
		Status:   StatusNormal,
		SyncReq:  true,
		Metadata: map[string]any{"k": "v"},
	}
	payload := []byte("hello world")

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, ser, header, bytes.NewReader(payload)); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadHeader(r, ser)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.ConvGuid != header.ConvGuid || got.Status != header.Status || !got.SyncReq {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if got.Len != int64(len(payload)) {
		t.Fatalf("expected Len=%d, got %d", len(payload), got.Len)
	}

	gotPayload := make([]byte, got.Len)
	if _, err := io.ReadFull(r, gotPayload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q", gotPayload)
	}
}

func TestWriteEnvelopeEmptyPayload(t *testing.T) {
	ser := DefaultSerializer()
	header := &Header{ConvGuid: NewConvGuid(), Status: StatusHeartbeat}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, ser, header, nil); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	r := bufio.NewReader(&buf)
	got, err := ReadHeader(r, ser)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.Len != 0 {
		t.Fatalf("expected Len=0, got %d", got.Len)
	}
}

func TestReadHeaderRejectsGarbagePrefix(t *testing.T) {
	ser := DefaultSerializer()
	r := bufio.NewReader(strings.NewReader("not-a-number {}"))
	if _, err := ReadHeader(r, ser); err == nil {
		t.Fatal("expected an error for a non-numeric length prefix")
	}
}
