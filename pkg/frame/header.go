// Package frame implements the wire envelope: a decimal-ASCII length prefix,
// a JSON header, and a binary payload of exactly the declared length.
package frame

import "time"

// Header is the mandatory JSON document that precedes every message's
// payload. Field names are case-sensitive on the wire and unknown keys are
// ignored by readers, per the envelope contract.
type Header struct {
	// Len is the byte length of the payload that follows this header.
	Len int64 `json:"Len"`

	// ConvGuid correlates a synchronous request with its response; reused
	// verbatim by the responder.
	ConvGuid string `json:"ConvGuid"`

	// Expiration is the absolute UTC time after which a recipient that has
	// not yet begun processing must drop the request. Zero means no
	// expiration.
	Expiration time.Time `json:"Expiration,omitempty"`

	// SenderTime is the sender's wall-clock when the message was framed.
	SenderTime time.Time `json:"SenderTime,omitempty"`

	// Status classifies the frame's role.
	Status Status `json:"Status"`

	// SyncReq and SyncResp are mutually exclusive; at most one is true.
	SyncReq  bool `json:"SyncReq,omitempty"`
	SyncResp bool `json:"SyncResp,omitempty"`

	// PresharedKey is set only on the client's auth-response frame.
	PresharedKey string `json:"PresharedKey,omitempty"`

	// Metadata is an application-supplied map of arbitrary JSON values.
	Metadata map[string]any `json:"Metadata,omitempty"`
}

// HasExpiration reports whether the header carries a non-zero expiration.
func (h *Header) HasExpiration() bool {
	return !h.Expiration.IsZero()
}

// Expired reports whether now is past the header's expiration. A header
// with no expiration never expires.
func (h *Header) Expired(now time.Time) bool {
	return h.HasExpiration() && now.After(h.Expiration)
}
