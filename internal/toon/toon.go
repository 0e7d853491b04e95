// Package toon treats the Token-Oriented Object Notation encoding used on
// the wire as an opaque external codec, consistent with the original
// project: hydra-mail/src/main.rs encodes pulses through the external
// toon_format crate and the broker never decodes the result, only
// base64-unwraps and size/UTF-8-validates it.
//
// This package does not implement TOON. It exists so the rest of the
// module has one named place that tags a blob as "toon" and passes it
// through unchanged, mirroring src/toon.rs's Format enum without
// reimplementing the encoder it wraps.
package toon

import "fmt"

// Format names the payload encoding carried alongside a command. The
// protocol currently recognizes exactly one value.
type Format string

const (
	FormatToon Format = "toon"
)

// ParseFormat validates a format string. It accepts exactly "toon",
// "TOON" and "Toon"; any other spelling or casing is rejected.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "toon", "TOON", "Toon":
		return FormatToon, nil
	default:
		return "", fmt.Errorf("invalid format: %s, only toon format is supported", s)
	}
}

func (f Format) String() string { return string(f) }

// Encode returns the opaque bytes unchanged, tagged as "toon". The real
// encoder lives outside this module's scope (see SPEC_FULL.md §1); callers
// that already hold a TOON-encoded blob (or, until a real encoder is
// wired in, a JSON encoding treated as an equivalent opaque blob) pass it
// straight through.
func Encode(raw []byte) []byte {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}

// Decode is the identity inverse of Encode: the broker and its clients
// never interpret TOON content, they only move bytes.
func Decode(encoded []byte) []byte {
	out := make([]byte, len(encoded))
	copy(out, encoded)
	return out
}
