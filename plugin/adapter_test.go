package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedshield/secureproc/plugin"
	"github.com/fedshield/secureproc/testutil"
)

func newAdapter(t *testing.T) *plugin.Adapter {
	t.Helper()
	a := plugin.NewAdapter(nil)
	require.Equal(t, plugin.StatusOK, a.Initialize(testutil.KeyBlob(t)))
	t.Cleanup(a.Shutdown)
	return a
}

// collectBuf drives the short-buffer convention: a nil destination reports the
// required size, the retry collects the pending result.
func collectBuf(t *testing.T, call func(dst []byte) (int, plugin.Status)) []byte {
	t.Helper()
	need, status := call(nil)
	require.Equal(t, plugin.StatusShortBuffer, status)
	require.Positive(t, need)

	dst := make([]byte, need)
	n, status := call(dst)
	require.Equal(t, plugin.StatusOK, status)
	require.Equal(t, need, n)
	return dst
}

func TestAdapterFullRound(t *testing.T) {
	a := newAdapter(t)
	require.Equal(t, plugin.StatusOK, a.StartRound(1))

	raw := []float64{1.5, 0.25, -2.0, 1.0, 0.5, 0.5}
	enc := collectBuf(t, func(dst []byte) (int, plugin.Status) {
		return a.EncodeAndEncrypt(raw, dst)
	})

	agg := collectBuf(t, func(dst []byte) (int, plugin.Status) {
		return a.Aggregate([][]byte{enc}, []int32{0, 1, 0}, 2, dst)
	})

	need, status := a.Decrypt(agg, nil)
	require.Equal(t, plugin.StatusShortBuffer, status)
	require.Equal(t, 4, need)

	out := make([]float64, need)
	n, status := a.Decrypt(agg, out)
	require.Equal(t, plugin.StatusOK, status)
	require.Equal(t, need, n)

	want := []float64{1.5 + 0.5, 0.25 + 0.5, -2.0, 1.0}
	for i := range want {
		require.InDelta(t, want[i], out[i], 1e-9, "element %d", i)
	}
}

func TestAdapterExactSizeFirstCall(t *testing.T) {
	// A generously sized destination succeeds in one call, nothing pending.
	a := newAdapter(t)
	require.Equal(t, plugin.StatusOK, a.StartRound(1))

	dst := make([]byte, 1<<22)
	n, status := a.EncodeAndEncrypt([]float64{1, 2}, dst)
	require.Equal(t, plugin.StatusOK, status)
	require.Positive(t, n)
	require.LessOrEqual(t, n, len(dst))

	// The next call starts fresh rather than flushing a stale result.
	_, status = a.EncodeAndEncrypt([]float64{1, 2}, dst)
	require.Equal(t, plugin.StatusRoundMismatch, status)
}

func TestAdapterShortBufferRetryIgnoresInputs(t *testing.T) {
	a := newAdapter(t)
	require.Equal(t, plugin.StatusOK, a.StartRound(1))

	need, status := a.EncodeAndEncrypt([]float64{1, 2}, nil)
	require.Equal(t, plugin.StatusShortBuffer, status)

	// The retry collects the pending round-1 result; the new values are not
	// re-encrypted.
	dst := make([]byte, need)
	n, status := a.EncodeAndEncrypt([]float64{9, 9, 9, 9}, dst)
	require.Equal(t, plugin.StatusOK, status)
	require.Equal(t, need, n)

	agg := collectBuf(t, func(d []byte) (int, plugin.Status) {
		return a.Aggregate([][]byte{dst[:n]}, []int32{0}, 1, d)
	})
	out := make([]float64, 2)
	_, status = a.Decrypt(agg, out)
	require.Equal(t, plugin.StatusOK, status)
	require.InDelta(t, 1.0, out[0], 1e-9)
	require.InDelta(t, 2.0, out[1], 1e-9)
}

func TestAdapterStatusMapping(t *testing.T) {
	a := newAdapter(t)

	// Out of sequence before any round.
	_, status := a.EncodeAndEncrypt([]float64{1, 2}, nil)
	require.Equal(t, plugin.StatusRoundMismatch, status)

	require.Equal(t, plugin.StatusOK, a.StartRound(1))

	// Odd array length cannot form gradient/hessian pairs.
	_, status = a.EncodeAndEncrypt([]float64{1, 2, 3}, nil)
	require.Equal(t, plugin.StatusRangeError, status)

	// Value outside the fixed-point range.
	_, status = a.EncodeAndEncrypt([]float64{1e300, 0}, nil)
	require.Equal(t, plugin.StatusRangeError, status)

	enc := collectBuf(t, func(dst []byte) (int, plugin.Status) {
		return a.EncodeAndEncrypt([]float64{1, 2}, dst)
	})

	_, status = a.Aggregate([][]byte{[]byte("junk")}, []int32{0}, 1, nil)
	require.Equal(t, plugin.StatusMalformedBuffer, status)

	_, status = a.Aggregate([][]byte{enc}, []int32{7}, 1, nil)
	require.Equal(t, plugin.StatusAssignmentError, status)

	// Recoverable failures above left the round usable.
	_, status = a.Aggregate([][]byte{enc}, []int32{0}, 1, make([]byte, 1<<22))
	require.Equal(t, plugin.StatusOK, status)
}

func TestAdapterDecryptWithoutSecretKey(t *testing.T) {
	a := plugin.NewAdapter(nil)
	require.Equal(t, plugin.StatusOK, a.Initialize(testutil.PublicKeyBlob(t)))
	defer a.Shutdown()

	require.Equal(t, plugin.StatusOK, a.StartRound(1))
	enc := collectBuf(t, func(dst []byte) (int, plugin.Status) {
		return a.EncodeAndEncrypt([]float64{1, 2}, dst)
	})
	agg := collectBuf(t, func(dst []byte) (int, plugin.Status) {
		return a.Aggregate([][]byte{enc}, []int32{0}, 1, dst)
	})

	_, status := a.Decrypt(agg, make([]float64, 16))
	require.Equal(t, plugin.StatusKeyError, status)
}

func TestAdapterResetClearsPending(t *testing.T) {
	a := newAdapter(t)
	require.Equal(t, plugin.StatusOK, a.StartRound(1))

	_, status := a.EncodeAndEncrypt([]float64{1, 2}, nil)
	require.Equal(t, plugin.StatusShortBuffer, status)

	require.Equal(t, plugin.StatusOK, a.Reset())

	// After reset there is no pending result and no open round.
	_, status = a.EncodeAndEncrypt([]float64{1, 2}, make([]byte, 1<<22))
	require.Equal(t, plugin.StatusRoundMismatch, status)
}

func TestAdapterLifecycle(t *testing.T) {
	a := plugin.NewAdapter(nil)

	// Everything before Initialize is rejected.
	require.Equal(t, plugin.StatusFailedState, a.StartRound(1))
	_, status := a.EncodeAndEncrypt(nil, nil)
	require.Equal(t, plugin.StatusFailedState, status)
	require.Equal(t, plugin.StatusFailedState, a.Reset())

	require.Equal(t, plugin.StatusKeyError, a.Initialize([]byte("bad blob")))
	require.Equal(t, plugin.StatusOK, a.Initialize(testutil.KeyBlob(t)))
	require.Equal(t, plugin.StatusInternal, a.Initialize(testutil.KeyBlob(t)))

	a.Shutdown()
	require.Equal(t, plugin.StatusFailedState, a.StartRound(1))
	a.Shutdown() // idempotent
}
