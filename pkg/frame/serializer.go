package frame

import jsoniter "github.com/json-iterator/go"

// Serializer is the JSON (de)serialization boundary the envelope header is
// encoded through. The engine behind it is an external collaborator: the
// library only owns this contract, not the codec's internals.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// jsonIterSerializer wraps jsoniter's standard-library-compatible config,
// which preserves encoding/json struct-tag and number semantics.
type jsonIterSerializer struct {
	api jsoniter.API
}

// DefaultSerializer returns the library's shipped default Serializer.
func DefaultSerializer() Serializer {
	return &jsonIterSerializer{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (s *jsonIterSerializer) Marshal(v any) ([]byte, error) {
	return s.api.Marshal(v)
}

func (s *jsonIterSerializer) Unmarshal(data []byte, v any) error {
	return s.api.Unmarshal(data, v)
}
