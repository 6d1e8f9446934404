package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed reports a buffer whose header or payload is inconsistent, or
// whose version or element type is not recognized.
var ErrMalformed = errors.New("malformed buffer")

// FormatVersion is the wire-format version this build produces and accepts.
// The version byte is checked before any other field so a future key size or
// scale change can never silently misinterpret old buffers.
const FormatVersion = 1

// HeaderSize is the fixed byte length of a buffer header:
// version (1) + element type (1) + round id (8) + element count (4).
const HeaderSize = 14

// ElementType tags the payload element kind.
type ElementType uint8

const (
	// ElementEncoded is a fixed-point encoded value: an 8-byte big-endian
	// two's-complement integer.
	ElementEncoded ElementType = 1

	// ElementCipher is a ciphertext element: an 8-byte key identifier
	// followed by a ciphertext of the fixed width implied by the version-1
	// homomorphic parameters.
	ElementCipher ElementType = 2
)

// EncodedSize is the byte width of one ElementEncoded element.
const EncodedSize = 8

// Format serializes and validates buffers. Byte order and element widths are
// fixed constants of FormatVersion, not negotiated at runtime.
type Format struct {
	// CipherSize is the byte width of one ElementCipher element. It is a
	// constant of the version-1 homomorphic parameters, supplied by the
	// crypto engine at startup.
	CipherSize int
}

func (f Format) elementSize(t ElementType) (int, bool) {
	switch t {
	case ElementEncoded:
		return EncodedSize, true
	case ElementCipher:
		return f.CipherSize, true
	default:
		return 0, false
	}
}

// Serialize builds a buffer from uniform-width elements, stamping it with the
// given round identifier.
func (f Format) Serialize(t ElementType, roundID uint64, elements [][]byte) ([]byte, error) {
	size, ok := f.elementSize(t)
	if !ok {
		return nil, fmt.Errorf("%w: unknown element type %d", ErrMalformed, t)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: element size for type %d not configured", ErrMalformed, t)
	}
	if len(elements) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: element count %d exceeds format limit", ErrMalformed, len(elements))
	}

	out := make([]byte, HeaderSize, HeaderSize+len(elements)*size)
	out[0] = FormatVersion
	out[1] = byte(t)
	binary.BigEndian.PutUint64(out[2:10], roundID)
	binary.BigEndian.PutUint32(out[10:14], uint32(len(elements)))

	for i, elem := range elements {
		if len(elem) != size {
			return nil, fmt.Errorf("%w: element %d is %d bytes, want %d", ErrMalformed, i, len(elem), size)
		}
		out = append(out, elem...)
	}
	return out, nil
}

// Deserialize validates the header and splits the payload into elements. The
// returned element slices alias data; callers that hold onto them past the
// lifetime of data must copy. Validation never reads past the declared byte
// length.
func (f Format) Deserialize(data []byte) (ElementType, uint64, [][]byte, error) {
	if len(data) < HeaderSize {
		return 0, 0, nil, fmt.Errorf("%w: %d bytes is shorter than the %d-byte header", ErrMalformed, len(data), HeaderSize)
	}
	if data[0] != FormatVersion {
		return 0, 0, nil, fmt.Errorf("%w: unrecognized format version %d", ErrMalformed, data[0])
	}

	t := ElementType(data[1])
	size, ok := f.elementSize(t)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: unknown element type %d", ErrMalformed, data[1])
	}
	if size <= 0 {
		return 0, 0, nil, fmt.Errorf("%w: element size for type %d not configured", ErrMalformed, t)
	}

	roundID := binary.BigEndian.Uint64(data[2:10])
	count := binary.BigEndian.Uint32(data[10:14])
	payload := data[HeaderSize:]

	// Overflow-safe: count and size both fit in uint64.
	declared := uint64(count) * uint64(size)
	if declared != uint64(len(payload)) {
		return 0, 0, nil, fmt.Errorf("%w: %d elements of %d bytes disagree with %d-byte payload", ErrMalformed, count, size, len(payload))
	}

	elements := make([][]byte, count)
	for i := range elements {
		elements[i] = payload[i*size : (i+1)*size]
	}
	return t, roundID, elements, nil
}
