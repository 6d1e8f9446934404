package crypto

import (
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

var (
	// ErrDecryption reports a ciphertext that was not produced under a key
	// compatible with this engine, detected through the embedded key id, or
	// that fails to deserialize.
	ErrDecryption = errors.New("ciphertext failed integrity check")

	// ErrKeyMismatch reports an attempt to homomorphically combine
	// ciphertexts produced under different keys.
	ErrKeyMismatch = errors.New("ciphertexts produced under different keys")
)

// Parameters returns the homomorphic parameters fixed by wire-format
// version 1. They are constants of the format, not negotiated at runtime:
// changing them is a format version bump. The plaintext modulus 95*2^53 + 1
// gives a signed plaintext range of about +/-2^58, leaving room for histogram
// sums of 2^20 values encoded at the default fixed-point scale.
func Parameters() (heint.Parameters, error) {
	return heint.NewParametersFromLiteral(heint.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{60, 60, 60},
		LogP:             []int{31},
		PlaintextModulus: 855683929200394241, // 95*2^53 + 1
	})
}

// CipherValue is the opaque ciphertext of one encoded value, tagged with the
// id of the key it was produced under.
type CipherValue struct {
	KeyID KeyID
	Ct    *rlwe.Ciphertext
}

// Engine is the handle returned by initialization and threaded through every
// subsequent operation. Key material is read-only after construction; the
// engine itself performs no locking and relies on the caller's exclusive-
// access discipline, except for the slice operations which fan out internally
// over independent elements.
type Engine struct {
	params     heint.Parameters
	material   *KeyMaterial
	encoder    *heint.Encoder
	encryptor  *rlwe.Encryptor
	decryptor  *rlwe.Decryptor // nil for public-only material
	evaluator  *heint.Evaluator
	cipherSize int
}

// NewEngine initializes the crypto engine from an opaque key configuration
// blob. Malformed or mismatched key material fails with ErrKey.
func NewEngine(blob []byte) (*Engine, error) {
	material, err := ParseKeyMaterial(blob)
	if err != nil {
		return nil, err
	}
	return newEngine(material)
}

// NewEngineFromMaterial initializes the engine from already-parsed material.
func NewEngineFromMaterial(material *KeyMaterial) (*Engine, error) {
	if material == nil || material.pk == nil {
		return nil, fmt.Errorf("%w: no public key", ErrKey)
	}
	return newEngine(material)
}

func newEngine(material *KeyMaterial) (*Engine, error) {
	params, err := Parameters()
	if err != nil {
		return nil, fmt.Errorf("homomorphic parameters: %w", err)
	}

	e := &Engine{
		params:    params,
		material:  material,
		encoder:   heint.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, material.pk),
		evaluator: heint.NewEvaluator(params, nil),
	}
	if material.sk != nil {
		e.decryptor = rlwe.NewDecryptor(params, material.sk)
	}

	// The ciphertext width is shape-determined: degree 1 at the maximum
	// level under fixed parameters. Every fresh or summed ciphertext this
	// engine handles has the same width.
	e.cipherSize = len(KeyID{}) + rlwe.NewCiphertext(params, 1, params.MaxLevel()).BinarySize()
	return e, nil
}

// KeyID returns the fingerprint of the engine's key.
func (e *Engine) KeyID() KeyID {
	return e.material.id
}

// CanDecrypt reports whether the engine holds a secret key.
func (e *Engine) CanDecrypt() bool {
	return e.material.CanDecrypt()
}

// CipherSize is the fixed byte width of one serialized CipherValue under the
// version-1 parameters: 8 bytes of key id followed by the ciphertext.
func (e *Engine) CipherSize() int {
	return e.cipherSize
}

// Close drops the key material. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.material = nil
	e.encryptor = nil
	e.decryptor = nil
}

// Encrypt encrypts one encoded value under the engine's key, drawing fresh
// randomness so equal plaintexts never yield equal ciphertexts.
func (e *Engine) Encrypt(v int64) (CipherValue, error) {
	return encryptOne(e.params, e.encoder, e.encryptor, e.material.id, v)
}

// EncryptZero returns a fresh encryption of zero, used for aggregation
// buckets with no assigned samples.
func (e *Engine) EncryptZero() (CipherValue, error) {
	return e.Encrypt(0)
}

func encryptOne(params heint.Parameters, ecd *heint.Encoder, enc *rlwe.Encryptor, id KeyID, v int64) (CipherValue, error) {
	pt := heint.NewPlaintext(params, params.MaxLevel())
	if err := ecd.Encode([]int64{v}, pt); err != nil {
		return CipherValue{}, fmt.Errorf("encode plaintext: %w", err)
	}
	ct := rlwe.NewCiphertext(params, 1, params.MaxLevel())
	if err := enc.Encrypt(pt, ct); err != nil {
		return CipherValue{}, fmt.Errorf("encrypt: %w", err)
	}
	return CipherValue{KeyID: id, Ct: ct}, nil
}

// Decrypt recovers the encoded value from a ciphertext. A ciphertext carrying
// a different key id fails with ErrDecryption; an engine without a secret key
// fails with ErrKey.
func (e *Engine) Decrypt(cv CipherValue) (int64, error) {
	if e.decryptor == nil {
		return 0, fmt.Errorf("%w: engine holds no secret key", ErrKey)
	}
	return decryptOne(e.params, e.encoder, e.decryptor, e.material.id, cv)
}

func decryptOne(params heint.Parameters, ecd *heint.Encoder, dec *rlwe.Decryptor, id KeyID, cv CipherValue) (int64, error) {
	if cv.KeyID != id {
		return 0, fmt.Errorf("%w: ciphertext key %s, engine key %s", ErrDecryption, cv.KeyID, id)
	}
	if cv.Ct == nil {
		return 0, fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	pt := heint.NewPlaintext(params, cv.Ct.Level())
	dec.Decrypt(cv.Ct, pt)
	out := make([]int64, 1)
	if err := ecd.Decode(pt, out); err != nil {
		return 0, fmt.Errorf("%w: decode plaintext: %s", ErrDecryption, err)
	}
	return out[0], nil
}

// Add homomorphically adds two ciphertexts without decrypting. Operands
// carrying different key ids fail with ErrKeyMismatch; no value is returned
// in that case.
func (e *Engine) Add(a, b CipherValue) (CipherValue, error) {
	if a.KeyID != b.KeyID {
		return CipherValue{}, fmt.Errorf("%w: %s vs %s", ErrKeyMismatch, a.KeyID, b.KeyID)
	}
	if a.Ct == nil || b.Ct == nil {
		return CipherValue{}, fmt.Errorf("%w: empty ciphertext operand", ErrDecryption)
	}
	// AddNew derives the result's metadata from the operands; a manually
	// allocated destination would carry a zero plaintext scale and the
	// evaluator rejects that.
	sum, err := e.evaluator.AddNew(a.Ct, b.Ct)
	if err != nil {
		return CipherValue{}, fmt.Errorf("homomorphic add: %w", err)
	}
	return CipherValue{KeyID: a.KeyID, Ct: sum}, nil
}

// MarshalCipherValue serializes a ciphertext element to its fixed wire width.
func (e *Engine) MarshalCipherValue(cv CipherValue) ([]byte, error) {
	ctBytes, err := cv.Ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ciphertext: %w", err)
	}
	out := make([]byte, 0, e.cipherSize)
	out = append(out, cv.KeyID[:]...)
	out = append(out, ctBytes...)
	if len(out) != e.cipherSize {
		return nil, fmt.Errorf("serialized ciphertext is %d bytes, want %d", len(out), e.cipherSize)
	}
	return out, nil
}

// ParseCipherValue deserializes a ciphertext element. Input that does not
// deserialize to a well-formed ciphertext fails with ErrDecryption.
func (e *Engine) ParseCipherValue(data []byte) (CipherValue, error) {
	if len(data) != e.cipherSize {
		return CipherValue{}, fmt.Errorf("%w: element is %d bytes, want %d", ErrDecryption, len(data), e.cipherSize)
	}
	var cv CipherValue
	copy(cv.KeyID[:], data[:len(cv.KeyID)])
	cv.Ct = new(rlwe.Ciphertext)
	if err := cv.Ct.UnmarshalBinary(data[len(cv.KeyID):]); err != nil {
		return CipherValue{}, fmt.Errorf("%w: unmarshal ciphertext: %s", ErrDecryption, err)
	}
	return cv, nil
}
