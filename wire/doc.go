// Package wire implements the self-describing binary envelope used for every
// value exchanged with the host or with peer processors.
//
// A buffer is a header followed by a contiguous array of fixed-width
// elements:
//
//	[version: 1][element_type: 1][round_id: 8][element_count: 4][payload]
//
// All integers are big-endian. The version byte is validated before any other
// field is touched, and element_count times the element width must equal the
// payload length exactly. Any peer or host receiving a buffer must validate
// the header before reading the payload; Deserialize enforces this and never
// reads past the declared byte length.
package wire
