package plugin

import (
	"io"
	"log/slog"
	"sync"

	"github.com/fedshield/secureproc/processor"
)

// Adapter wraps one processor behind the host call surface. It owns the
// pending-result slots used by the short-buffer retry convention; a separate
// mutex keeps those consistent if the host ever calls from more than one
// thread.
type Adapter struct {
	mu   sync.Mutex
	log  *slog.Logger
	proc *processor.Processor

	// Results produced but not yet collected because the host destination
	// was undersized. At most one is pending per operation kind.
	pendingBuf    []byte    // EncodeAndEncrypt or Aggregate output
	pendingFloats []float64 // Decrypt output
}

// NewAdapter returns an uninitialized adapter. The host must call Initialize
// before anything else. Nil log disables logging.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{log: log}
}

// guard converts a panic escaping the lower layers into StatusInternal, so a
// bug in the processor or crypto stack can never take down the host process.
// Every entry point defers it while the adapter lock is held.
func (a *Adapter) guard(status *Status) {
	if r := recover(); r != nil {
		a.log.Error("recovered panic at host boundary", "panic", r)
		*status = StatusInternal
	}
}

// Initialize builds the processor from the host-supplied opaque key blob.
// The blob is copied; the host keeps ownership of its memory.
func (a *Adapter) Initialize(keyBlob []byte) (status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc != nil {
		a.log.Warn("initialize called twice")
		return StatusInternal
	}
	owned := make([]byte, len(keyBlob))
	copy(owned, keyBlob)
	proc, err := processor.New(processor.Config{KeyBlob: owned, Log: a.log})
	if err != nil {
		a.log.Error("initialize failed", "err", err)
		return statusFor(err)
	}
	a.proc = proc
	return StatusOK
}

// StartRound opens a round.
func (a *Adapter) StartRound(roundID uint64) (status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc == nil {
		return StatusFailedState
	}
	return statusFor(a.proc.StartRound(roundID))
}

// EncodeAndEncrypt consumes a flat gradient/hessian array (g0, h0, g1, h1,
// ...) and writes the resulting ciphertext buffer into dst. On success n is
// the number of bytes written. If dst is too small, n is the required size,
// the status is StatusShortBuffer, and the result stays pending for a retry;
// the raw values are ignored on that retry.
func (a *Adapter) EncodeAndEncrypt(raw []float64, dst []byte) (n int, status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc == nil {
		return 0, StatusFailedState
	}
	if a.pendingBuf != nil {
		return a.flushBuf(dst)
	}
	if len(raw)%2 != 0 {
		a.log.Error("odd gradient array length", "len", len(raw))
		return 0, StatusRangeError
	}

	pairs := make([]processor.GradientPair, len(raw)/2)
	for i := range pairs {
		pairs[i] = processor.GradientPair{Grad: raw[2*i], Hess: raw[2*i+1]}
	}
	buf, err := a.proc.EncodeAndEncrypt(pairs)
	if err != nil {
		return 0, statusFor(err)
	}
	a.pendingBuf = buf
	return a.flushBuf(dst)
}

// Aggregate consumes peer ciphertext buffers and the host's bucket
// assignment, and writes the aggregated buffer into dst following the same
// short-buffer convention as EncodeAndEncrypt. Peer buffers are copied
// before validation; the host keeps ownership of its memory.
func (a *Adapter) Aggregate(peerBufs [][]byte, assignment []int32, bucketCount int32, dst []byte) (n int, status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc == nil {
		return 0, StatusFailedState
	}
	if a.pendingBuf != nil {
		return a.flushBuf(dst)
	}

	owned := make([][]byte, len(peerBufs))
	for i, b := range peerBufs {
		owned[i] = make([]byte, len(b))
		copy(owned[i], b)
	}
	assign := make([]int, len(assignment))
	for i, b := range assignment {
		assign[i] = int(b)
	}
	buf, err := a.proc.Aggregate(owned, assign, int(bucketCount))
	if err != nil {
		return 0, statusFor(err)
	}
	a.pendingBuf = buf
	return a.flushBuf(dst)
}

// Decrypt consumes an aggregated ciphertext buffer and writes the decoded
// float array into dst. On success n is the number of values written. If dst
// is too small, n is the required length, the status is StatusShortBuffer,
// and the result stays pending for a retry.
func (a *Adapter) Decrypt(buf []byte, dst []float64) (n int, status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc == nil {
		return 0, StatusFailedState
	}
	if a.pendingFloats != nil {
		return a.flushFloats(dst)
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)
	values, err := a.proc.Decrypt(owned)
	if err != nil {
		return 0, statusFor(err)
	}
	a.pendingFloats = values
	return a.flushFloats(dst)
}

// Reset clears round state and any pending results. Keys are kept.
func (a *Adapter) Reset() (status Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.guard(&status)
	if a.proc == nil {
		return StatusFailedState
	}
	a.pendingBuf = nil
	a.pendingFloats = nil
	return statusFor(a.proc.Reset())
}

// Shutdown tears the processor down. The adapter cannot be reused.
func (a *Adapter) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	var discard Status
	defer a.guard(&discard)
	if a.proc != nil {
		a.proc.Close()
		a.proc = nil
	}
	a.pendingBuf = nil
	a.pendingFloats = nil
}

func (a *Adapter) flushBuf(dst []byte) (int, Status) {
	need := len(a.pendingBuf)
	if len(dst) < need {
		return need, StatusShortBuffer
	}
	copy(dst, a.pendingBuf)
	a.pendingBuf = nil
	return need, StatusOK
}

func (a *Adapter) flushFloats(dst []float64) (int, Status) {
	need := len(a.pendingFloats)
	if len(dst) < need {
		return need, StatusShortBuffer
	}
	copy(dst, a.pendingFloats)
	a.pendingFloats = nil
	return need, StatusOK
}
