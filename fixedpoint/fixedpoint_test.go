package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripWithinOneULP(t *testing.T) {
	c := NewCodec()
	ulp := 1.0 / float64(int64(1)<<c.ScaleBits)

	values := []float64{
		0, 1, -1, 0.5, -0.5, 1.5, 0.25, 1e-3, -1e-3,
		3.14159265358979, -2.71828182845905,
		1234.5678, -9876.5432,
		4194304, -4194304, // extremes of the encodable range at the default scale
	}
	for _, x := range values {
		v, err := c.Encode(x)
		require.NoError(t, err, "encode %g", x)
		back := c.Decode(v)
		require.LessOrEqual(t, math.Abs(back-x), ulp, "round trip of %g drifted by more than one ULP", x)
	}
}

func TestRoundHalfToEven(t *testing.T) {
	c := NewCodec()
	scale := float64(int64(1) << c.ScaleBits)

	// Exact .5 ties in the scaled domain must round to the even neighbor.
	cases := []struct {
		scaled float64
		want   int64
	}{
		{1.5, 2},
		{2.5, 2},
		{-1.5, -2},
		{-2.5, -2},
		{0.5, 0},
	}
	for _, tc := range cases {
		v, err := c.Encode(tc.scaled / scale)
		require.NoError(t, err)
		require.Equal(t, tc.want, v, "tie at %g scaled units", tc.scaled)
	}
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	c := NewCodec()
	for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := c.Encode(x)
		require.ErrorIs(t, err, ErrRange, "encode %v", x)
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	c := NewCodec()
	limit := float64(MaxScaled) / float64(int64(1)<<c.ScaleBits)

	_, err := c.Encode(limit)
	require.NoError(t, err, "the boundary itself is encodable")

	_, err = c.Encode(limit * 2)
	require.ErrorIs(t, err, ErrRange)
	_, err = c.Encode(-limit * 2)
	require.ErrorIs(t, err, ErrRange)
}

func TestEncodeOrderPreserving(t *testing.T) {
	c := NewCodec()
	prev := int64(math.MinInt64)
	for _, x := range []float64{-100, -1.5, -0.001, 0, 0.001, 1.5, 100} {
		v, err := c.Encode(x)
		require.NoError(t, err)
		require.Greater(t, v, prev, "encoding must preserve order at %g", x)
		prev = v
	}
}

func TestEncodeAdditivity(t *testing.T) {
	// Integer addition of encodings matches the encoding of the float sum
	// for values exactly representable at the scale. This is what makes
	// homomorphic integer addition meaningful.
	c := NewCodec()
	a, err := c.Encode(1.5)
	require.NoError(t, err)
	b, err := c.Encode(0.25)
	require.NoError(t, err)
	sum, err := c.Encode(1.75)
	require.NoError(t, err)
	require.Equal(t, sum, a+b)
}
