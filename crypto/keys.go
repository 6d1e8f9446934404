package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"golang.org/x/crypto/sha3"
)

// ErrKey reports invalid, malformed, or mismatched key material.
var ErrKey = errors.New("invalid key material")

// keyBlobMagic identifies a serialized key material blob.
var keyBlobMagic = [4]byte{'S', 'P', 'K', '1'}

const flagHasSecret = 0x01

// KeyID identifies the key a ciphertext was produced under: the leading
// 8 bytes of SHA3-256 over the serialized public key. Every participant
// deriving the id from the same distributed blob arrives at the same value.
type KeyID [8]byte

// String returns the hex form of the key id, for logging and errors.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// KeyMaterial holds the process's encryption keys. The secret key is
// optional: passive participants encrypt and add but never decrypt. Key
// material is created once at engine initialization, is never serialized
// into buffers, and is dropped at engine Close.
type KeyMaterial struct {
	pk *rlwe.PublicKey
	sk *rlwe.SecretKey // nil for public-only material
	id KeyID
}

// ID returns the fingerprint of the public key.
func (m *KeyMaterial) ID() KeyID {
	return m.id
}

// CanDecrypt reports whether the material includes a secret key.
func (m *KeyMaterial) CanDecrypt() bool {
	return m.sk != nil
}

// GenerateKeyMaterial creates a fresh key pair under the version-1
// parameters. Distributing the resulting blobs between participants is the
// host's responsibility; this package defines no key-distribution protocol.
func GenerateKeyMaterial() (*KeyMaterial, error) {
	params, err := Parameters()
	if err != nil {
		return nil, err
	}
	sk, pk := rlwe.NewKeyGenerator(params).GenKeyPairNew()
	id, err := fingerprint(pk)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{pk: pk, sk: sk, id: id}, nil
}

// Blob serializes the material into the opaque key configuration blob.
// includeSecret controls whether the secret key is carried; blobs handed to
// passive participants must be public-only.
func (m *KeyMaterial) Blob(includeSecret bool) ([]byte, error) {
	pkBytes, err := m.pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	var skBytes []byte
	var flags byte
	if includeSecret {
		if m.sk == nil {
			return nil, fmt.Errorf("%w: no secret key to include", ErrKey)
		}
		skBytes, err = m.sk.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal secret key: %w", err)
		}
		flags |= flagHasSecret
	}

	out := make([]byte, 0, len(keyBlobMagic)+1+8+len(pkBytes)+len(skBytes))
	out = append(out, keyBlobMagic[:]...)
	out = append(out, flags)
	out = binary.BigEndian.AppendUint32(out, uint32(len(pkBytes)))
	out = append(out, pkBytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(skBytes)))
	out = append(out, skBytes...)
	return out, nil
}

// ParseKeyMaterial decodes a key configuration blob. Malformed blobs and key
// components of the wrong size fail with ErrKey.
func ParseKeyMaterial(blob []byte) (*KeyMaterial, error) {
	if len(blob) < len(keyBlobMagic)+1+4 {
		return nil, fmt.Errorf("%w: blob of %d bytes is too short", ErrKey, len(blob))
	}
	if [4]byte(blob[:4]) != keyBlobMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrKey)
	}
	flags := blob[4]
	rest := blob[5:]

	pkBytes, rest, err := readChunk(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %s", ErrKey, err)
	}
	skBytes, rest, err := readChunk(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: secret key: %s", ErrKey, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrKey, len(rest))
	}

	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(pkBytes); err != nil {
		return nil, fmt.Errorf("%w: unmarshal public key: %s", ErrKey, err)
	}
	id, err := fingerprint(pk)
	if err != nil {
		return nil, err
	}

	m := &KeyMaterial{pk: pk, id: id}
	if flags&flagHasSecret != 0 {
		if len(skBytes) == 0 {
			return nil, fmt.Errorf("%w: secret flag set but no secret key present", ErrKey)
		}
		sk := new(rlwe.SecretKey)
		if err := sk.UnmarshalBinary(skBytes); err != nil {
			return nil, fmt.Errorf("%w: unmarshal secret key: %s", ErrKey, err)
		}
		m.sk = sk
	} else if len(skBytes) != 0 {
		return nil, fmt.Errorf("%w: secret key present but flag not set", ErrKey)
	}
	return m, nil
}

func readChunk(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errors.New("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, fmt.Errorf("declared %d bytes, %d remain", n, len(data))
	}
	return data[:n], data[n:], nil
}

func fingerprint(pk *rlwe.PublicKey) (KeyID, error) {
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return KeyID{}, fmt.Errorf("marshal public key: %w", err)
	}
	h := sha3.New256()
	h.Write([]byte("secureproc-keyid-v1"))
	h.Write(pkBytes)
	return KeyID(h.Sum(nil)[:8]), nil
}
