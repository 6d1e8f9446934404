package processor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedshield/secureproc/testutil"
)

// Failed is only entered when homomorphic work breaks mid-round, which no
// well-formed input can trigger from outside, so this test forces the
// transition directly.
func TestFailedStateRequiresReset(t *testing.T) {
	p, err := New(Config{KeyBlob: testutil.KeyBlob(t)})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.StartRound(1))

	cause := errors.New("homomorphic state corrupted")
	p.mu.Lock()
	got := p.fail(cause)
	p.mu.Unlock()
	require.ErrorIs(t, got, cause, "fail surfaces the triggering error, not ErrFailed")
	require.Equal(t, StateFailed, p.State())

	// Every operation except Reset is rejected until the host resets.
	require.ErrorIs(t, p.StartRound(2), ErrFailed)
	_, err = p.EncodeAndEncrypt(nil)
	require.ErrorIs(t, err, ErrFailed)
	_, err = p.Aggregate(nil, nil, 1)
	require.ErrorIs(t, err, ErrFailed)
	_, err = p.Decrypt(nil)
	require.ErrorIs(t, err, ErrFailed)

	require.NoError(t, p.Reset())
	require.Equal(t, StateIdle, p.State())

	// Round 1 never completed, so its id is retriable end to end.
	require.NoError(t, p.StartRound(1))
	buf, err := p.EncodeAndEncrypt([]GradientPair{{Grad: 1, Hess: 2}})
	require.NoError(t, err)
	agg, err := p.Aggregate([][]byte{buf}, []int{0}, 1)
	require.NoError(t, err)
	values, err := p.Decrypt(agg)
	require.NoError(t, err)
	require.InDelta(t, 1.0, values[0], 1e-9)
	require.InDelta(t, 2.0, values[1], 1e-9)
}
