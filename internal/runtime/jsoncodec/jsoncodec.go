// Package jsoncodec is the JSON layer of dump lines, file bus records and
// the web UI. It is backed by sonic with encoding/json compatible output.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads a single value from r. The decoder may read past the value,
// so r is not usable afterwards; streams of values need NewDecoder.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}

// NewEncoder returns an encoder that writes one value per line to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a decoder reading successive values from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
