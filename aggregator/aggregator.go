// Package aggregator sums per-sample ciphertexts into per-bucket ciphertexts
// according to a sample-to-bucket assignment supplied by the host, without
// decrypting anything.
package aggregator

import (
	"errors"
	"fmt"

	"github.com/fedshield/secureproc/crypto"
)

// ErrAssignment reports a sample index outside the ciphertext range or a
// bucket index outside [0, bucketCount).
var ErrAssignment = errors.New("invalid bucket assignment")

// Aggregate sums ciphers into bucketCount buckets. assignment[i] names the
// destination bucket of ciphers[i]; the mapping is many-to-one and need not
// be surjective. Buckets with no assigned samples hold a fresh encryption of
// zero, never an absent entry, so the result always has exactly bucketCount
// elements.
//
// The assignment is validated in full before any homomorphic work, so an
// ErrAssignment failure leaves no partial state behind. Addition within a
// bucket follows input order; byte-level reproducibility is not promised
// (encryption of empty buckets is randomized), only numeric equality after
// decryption.
func Aggregate(engine *crypto.Engine, ciphers []crypto.CipherValue, assignment []int, bucketCount int) ([]crypto.CipherValue, error) {
	if bucketCount < 1 {
		return nil, fmt.Errorf("%w: bucket count %d", ErrAssignment, bucketCount)
	}
	if len(assignment) != len(ciphers) {
		return nil, fmt.Errorf("%w: assignment covers %d samples, have %d ciphertexts", ErrAssignment, len(assignment), len(ciphers))
	}
	for i, b := range assignment {
		if b < 0 || b >= bucketCount {
			return nil, fmt.Errorf("%w: sample %d assigned to bucket %d of %d", ErrAssignment, i, b, bucketCount)
		}
	}

	out := make([]crypto.CipherValue, bucketCount)
	filled := make([]bool, bucketCount)
	for i, b := range assignment {
		if !filled[b] {
			out[b] = ciphers[i]
			filled[b] = true
			continue
		}
		sum, err := engine.Add(out[b], ciphers[i])
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", b, err)
		}
		out[b] = sum
	}

	for b := range out {
		if filled[b] {
			continue
		}
		zero, err := engine.EncryptZero()
		if err != nil {
			return nil, fmt.Errorf("empty bucket %d: %w", b, err)
		}
		out[b] = zero
	}
	return out, nil
}
