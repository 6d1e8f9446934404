// Package fixedpoint converts floating-point gradient and hessian values to
// and from a fixed-point integer encoding, so that integer addition under the
// homomorphic encryption layer is equivalent to floating-point addition up to
// rounding.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
)

// ErrRange reports a value whose scaled magnitude exceeds the encodable range,
// or a non-finite value.
var ErrRange = errors.New("value outside encodable range")

// DefaultScaleBits is the power-of-two scale used by wire-format version 1.
const DefaultScaleBits = 16

// MaxScaled bounds the magnitude of an encoded value. It leaves headroom for
// at least 2^20 summands inside the homomorphic plaintext modulus before a
// histogram sum can wrap.
const MaxScaled = int64(1) << 38

// Codec maps float64 values to scaled int64 values. The scale is fixed for
// the process lifetime; every participant in an exchange must use the same
// scale or decoded sums are meaningless.
type Codec struct {
	// ScaleBits is the log2 of the fixed-point scale factor.
	ScaleBits uint
}

// NewCodec returns a codec with the wire-format default scale.
func NewCodec() Codec {
	return Codec{ScaleBits: DefaultScaleBits}
}

func (c Codec) scale() float64 {
	return float64(int64(1) << c.ScaleBits)
}

// Encode deterministically maps x to a fixed-point integer. Rounding is
// half-to-even so repeated aggregation carries no systematic bias. Non-finite
// input and input whose scaled magnitude exceeds MaxScaled fail with ErrRange.
func (c Codec) Encode(x float64) (int64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrRange)
	}
	scaled := math.RoundToEven(x * c.scale())
	if scaled > float64(MaxScaled) || scaled < -float64(MaxScaled) {
		return 0, fmt.Errorf("%w: |%g| exceeds encodable magnitude at scale 2^%d", ErrRange, x, c.ScaleBits)
	}
	return int64(scaled), nil
}

// Decode is the inverse of Encode up to one unit in the last place of the
// configured scale. Decoding never fails; validating that the input came from
// a well-formed buffer is the caller's job.
func (c Codec) Decode(v int64) float64 {
	return float64(v) / c.scale()
}
