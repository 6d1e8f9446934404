package processor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fedshield/secureproc/aggregator"
	"github.com/fedshield/secureproc/crypto"
	"github.com/fedshield/secureproc/fixedpoint"
	"github.com/fedshield/secureproc/wire"
)

var (
	// ErrRoundMismatch reports a call whose round identifier does not match
	// the open round, a call when no round is open, or a call out of the
	// allowed sequence. The state machine is left unchanged.
	ErrRoundMismatch = errors.New("round identifier does not match open round")

	// ErrFailed reports a call on a processor that entered the failed state;
	// the host must Reset before further use.
	ErrFailed = errors.New("processor in failed state, reset required")

	// ErrClosed reports a call after shutdown.
	ErrClosed = errors.New("processor is shut down")
)

// State is the processor's position in the round lifecycle.
type State int

const (
	StateIdle State = iota
	StateEncoding
	StateAggregating
	StateDecoding
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEncoding:
		return "round-encoding"
	case StateAggregating:
		return "round-aggregating"
	case StateDecoding:
		return "round-decoding"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// GradientPair is one sample's plaintext gradient and hessian.
type GradientPair struct {
	Grad float64
	Hess float64
}

// Config carries processor construction parameters.
type Config struct {
	// KeyBlob is the opaque key material blob in the crypto engine's format.
	KeyBlob []byte

	// ScaleBits overrides the fixed-point scale. Zero selects the
	// wire-format default. All participants must agree on the scale.
	ScaleBits uint

	// Log receives round transitions and failures. Nil disables logging.
	// Plaintext gradient values and key material are never logged.
	Log *slog.Logger
}

// Processor is the round state machine. All methods are safe for concurrent
// use; a single mutex serializes state transitions. The expected caller is a
// single synchronous training thread.
type Processor struct {
	mu     sync.Mutex
	log    *slog.Logger
	codec  fixedpoint.Codec
	engine *crypto.Engine
	format wire.Format

	state    State
	round    uint64 // open round id, meaningful outside Idle and Failed
	lastDone uint64 // highest retired round id
	anyDone  bool
}

// New builds a processor from the given configuration. Key material problems
// surface as crypto.ErrKey.
func New(cfg Config) (*Processor, error) {
	engine, err := crypto.NewEngine(cfg.KeyBlob)
	if err != nil {
		return nil, err
	}
	codec := fixedpoint.NewCodec()
	if cfg.ScaleBits != 0 {
		codec.ScaleBits = cfg.ScaleBits
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		log:    log,
		codec:  codec,
		engine: engine,
		format: wire.Format{CipherSize: engine.CipherSize()},
		state:  StateIdle,
	}, nil
}

// State returns the current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Round returns the open round id, if a round is open.
func (p *Processor) Round() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	open := p.state == StateEncoding || p.state == StateAggregating || p.state == StateDecoding
	return p.round, open
}

// StartRound opens a new round. Only valid in Idle. Round ids are strictly
// monotonic over completed rounds: reusing a retired id fails with
// ErrRoundMismatch. A round that failed and was reset may be retried under
// the same id.
func (p *Processor) StartRound(roundID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return err
	}
	if p.state != StateIdle {
		return fmt.Errorf("%w: round %d still open in state %s", ErrRoundMismatch, p.round, p.state)
	}
	if p.anyDone && roundID <= p.lastDone {
		return fmt.Errorf("%w: round %d already retired (last completed %d)", ErrRoundMismatch, roundID, p.lastDone)
	}
	p.round = roundID
	p.state = StateEncoding
	p.log.Debug("round opened", "round", roundID)
	return nil
}

// EncodeAndEncrypt encodes the pairs to fixed point, encrypts them under the
// engine's key, and seals them into a ciphertext buffer stamped with the open
// round id. Gradient and hessian interleave: sample i occupies elements 2i
// and 2i+1. Valid exactly once per round, in RoundEncoding; success moves to
// RoundAggregating (returning the buffer is the distribution hand-off).
//
// Range errors are raised before any encryption and leave the state
// untouched; failures during encryption force Failed.
func (p *Processor) EncodeAndEncrypt(pairs []GradientPair) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	if p.state != StateEncoding {
		return nil, fmt.Errorf("%w: encode_and_encrypt not valid in state %s", ErrRoundMismatch, p.state)
	}

	encoded := make([]int64, 0, 2*len(pairs))
	for i, pair := range pairs {
		g, err := p.codec.Encode(pair.Grad)
		if err != nil {
			return nil, fmt.Errorf("sample %d gradient: %w", i, err)
		}
		h, err := p.codec.Encode(pair.Hess)
		if err != nil {
			return nil, fmt.Errorf("sample %d hessian: %w", i, err)
		}
		encoded = append(encoded, g, h)
	}

	ciphers, err := p.engine.EncryptSlice(encoded)
	if err != nil {
		return nil, p.fail(fmt.Errorf("encrypt round %d: %w", p.round, err))
	}
	buf, err := p.sealCiphers(ciphers)
	if err != nil {
		return nil, p.fail(fmt.Errorf("seal round %d: %w", p.round, err))
	}
	p.state = StateAggregating
	p.log.Debug("round encrypted", "round", p.round, "samples", len(pairs))
	return buf, nil
}

// Aggregate validates the peer buffers against the open round, concatenates
// their samples in argument order, and sums them into bucketCount buckets
// per the assignment. assignment[s] names the bucket of concatenated sample
// s, where a sample is one gradient/hessian pair. The result is a ciphertext
// buffer of 2*bucketCount elements for the open round.
//
// Valid in RoundAggregating, any number of times per round. Validation
// failures (malformed buffer, round mismatch, foreign key id, bad
// assignment) are raised before any homomorphic work and leave the state
// untouched; failures during aggregation force Failed.
func (p *Processor) Aggregate(peerBuffers [][]byte, assignment []int, bucketCount int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	if p.state != StateAggregating {
		return nil, fmt.Errorf("%w: aggregate not valid in state %s", ErrRoundMismatch, p.state)
	}

	var ciphers []crypto.CipherValue
	for bi, buf := range peerBuffers {
		elems, err := p.openCipherBuffer(buf)
		if err != nil {
			return nil, fmt.Errorf("peer buffer %d: %w", bi, err)
		}
		ciphers = append(ciphers, elems...)
	}
	if len(ciphers)%2 != 0 {
		return nil, fmt.Errorf("%w: odd ciphertext count %d, want gradient/hessian pairs", wire.ErrMalformed, len(ciphers))
	}

	samples := len(ciphers) / 2
	if len(assignment) != samples {
		return nil, fmt.Errorf("%w: assignment covers %d samples, buffers carry %d", aggregator.ErrAssignment, len(assignment), samples)
	}
	if bucketCount < 1 {
		return nil, fmt.Errorf("%w: bucket count %d", aggregator.ErrAssignment, bucketCount)
	}
	expanded := make([]int, len(ciphers))
	for s, b := range assignment {
		if b < 0 || b >= bucketCount {
			return nil, fmt.Errorf("%w: sample %d assigned to bucket %d of %d", aggregator.ErrAssignment, s, b, bucketCount)
		}
		expanded[2*s] = 2 * b
		expanded[2*s+1] = 2*b + 1
	}

	sums, err := aggregator.Aggregate(p.engine, ciphers, expanded, 2*bucketCount)
	if err != nil {
		return nil, p.fail(fmt.Errorf("aggregate round %d: %w", p.round, err))
	}
	buf, err := p.sealCiphers(sums)
	if err != nil {
		return nil, p.fail(fmt.Errorf("seal round %d: %w", p.round, err))
	}
	p.log.Debug("round aggregated", "round", p.round, "samples", samples, "buckets", bucketCount)
	return buf, nil
}

// Decrypt opens an aggregated buffer for the current round and returns the
// decoded values in element order (gradient and hessian sums interleaved).
// Success retires the round and returns the machine to Idle. An engine
// without a secret key fails with crypto.ErrKey before any state change.
func (p *Processor) Decrypt(buffer []byte) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.usable(); err != nil {
		return nil, err
	}
	if p.state != StateAggregating && p.state != StateDecoding {
		return nil, fmt.Errorf("%w: decrypt not valid in state %s", ErrRoundMismatch, p.state)
	}
	if !p.engine.CanDecrypt() {
		return nil, fmt.Errorf("%w: no secret key in this participant's material", crypto.ErrKey)
	}

	ciphers, err := p.openCipherBuffer(buffer)
	if err != nil {
		return nil, err
	}

	p.state = StateDecoding
	values, err := p.engine.DecryptSlice(ciphers)
	if err != nil {
		return nil, p.fail(fmt.Errorf("decrypt round %d: %w", p.round, err))
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = p.codec.Decode(v)
	}
	p.lastDone = p.round
	p.anyDone = true
	p.state = StateIdle
	p.log.Debug("round retired", "round", p.round, "values", len(out))
	return out, nil
}

// Reset discards all round state and returns to Idle. Keys are never
// regenerated. This is the only exit from Failed.
func (p *Processor) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return ErrClosed
	}
	from := p.state
	p.state = StateIdle
	p.round = 0
	p.log.Debug("processor reset", "from", from.String())
	return nil
}

// Close shuts the processor down, dropping key material and round counters.
// Every later call fails with ErrClosed.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.engine == nil {
		return
	}
	p.engine.Close()
	p.engine = nil
	p.state = StateIdle
	p.round = 0
	p.anyDone = false
	p.lastDone = 0
	p.log.Debug("processor closed")
}

// usable rejects calls on closed or failed processors.
func (p *Processor) usable() error {
	if p.engine == nil {
		return ErrClosed
	}
	if p.state == StateFailed {
		return ErrFailed
	}
	return nil
}

// fail records an unrecoverable mid-round error and surfaces it. Partial
// cryptographic state from the interrupted transition cannot be trusted, so
// only Reset exits this state.
func (p *Processor) fail(err error) error {
	p.state = StateFailed
	p.log.Error("round failed", "round", p.round, "err", err)
	return err
}

// sealCiphers serializes cipher values into a buffer for the open round.
func (p *Processor) sealCiphers(ciphers []crypto.CipherValue) ([]byte, error) {
	elems := make([][]byte, len(ciphers))
	for i, cv := range ciphers {
		b, err := p.engine.MarshalCipherValue(cv)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = b
	}
	return p.format.Serialize(wire.ElementCipher, p.round, elems)
}

// openCipherBuffer validates a buffer against the open round and parses its
// ciphertext elements, rejecting elements produced under a foreign key.
func (p *Processor) openCipherBuffer(buf []byte) ([]crypto.CipherValue, error) {
	elemType, roundID, elems, err := p.format.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	if elemType != wire.ElementCipher {
		return nil, fmt.Errorf("%w: element type %d, want ciphertext", wire.ErrMalformed, elemType)
	}
	if roundID != p.round {
		return nil, fmt.Errorf("%w: buffer carries round %d, open round is %d", ErrRoundMismatch, roundID, p.round)
	}
	ciphers := make([]crypto.CipherValue, len(elems))
	for i, raw := range elems {
		cv, err := p.engine.ParseCipherValue(raw)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if cv.KeyID != p.engine.KeyID() {
			return nil, fmt.Errorf("%w: element %d under key %s, engine key %s", crypto.ErrKeyMismatch, i, cv.KeyID, p.engine.KeyID())
		}
		ciphers[i] = cv
	}
	return ciphers, nil
}
