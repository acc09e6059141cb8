// Package codec abstracts the wire encoding of push-channel frames.
//
// The channel speaks JSON by default, matching the browser clients.
// CBOR is available for non-browser consumers that prefer a binary
// framing.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec combines marshaling and unmarshaling for one wire format.
type Codec interface {
	Marshaler
	Unmarshaler
}
