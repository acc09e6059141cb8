package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes frames as CBOR. Binary-safe and smaller on the wire
// than JSON; intended for non-browser subscribers.
type CBOR struct{}

var _ Codec = CBOR{}

func (CBOR) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, dst any) error {
	return cbor.Unmarshal(data, dst)
}

func (CBOR) NewEncoder(w io.Writer) Encoder {
	return cbor.NewEncoder(w)
}

func (CBOR) NewDecoder(r io.Reader) Decoder {
	return cbor.NewDecoder(r)
}
