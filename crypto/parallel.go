package crypto

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/heint"
)

// Element-wise encryption and decryption are CPU-bound and independent per
// element, so the slice operations fan out over a bounded pool of workers.
// Lattigo encryptor and decryptor state is not safe for concurrent use; each
// worker gets its own instances over the shared read-only key material.

func workerCount(n int) int {
	w := runtime.GOMAXPROCS(0)
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// EncryptSlice encrypts every value independently, preserving order. The
// first failure aborts the operation.
func (e *Engine) EncryptSlice(values []int64) ([]CipherValue, error) {
	out := make([]CipherValue, len(values))
	workers := workerCount(len(values))

	if workers == 1 {
		for i, v := range values {
			cv, err := e.Encrypt(v)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	chunk := (len(values) + workers - 1) / workers
	for lo := 0; lo < len(values); lo += chunk {
		hi := min(lo+chunk, len(values))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			ecd := heint.NewEncoder(e.params)
			enc := rlwe.NewEncryptor(e.params, e.material.pk)
			for i := lo; i < hi; i++ {
				cv, err := encryptOne(e.params, ecd, enc, e.material.id, values[i])
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				out[i] = cv
			}
		}(lo, hi)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return out, nil
}

// DecryptSlice decrypts every ciphertext independently, preserving order.
// The first failure aborts the operation.
func (e *Engine) DecryptSlice(ciphers []CipherValue) ([]int64, error) {
	if e.decryptor == nil {
		return nil, e.noSecretKey()
	}
	out := make([]int64, len(ciphers))
	workers := workerCount(len(ciphers))

	if workers == 1 {
		for i, cv := range ciphers {
			v, err := e.Decrypt(cv)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	chunk := (len(ciphers) + workers - 1) / workers
	for lo := 0; lo < len(ciphers); lo += chunk {
		hi := min(lo+chunk, len(ciphers))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			ecd := heint.NewEncoder(e.params)
			dec := rlwe.NewDecryptor(e.params, e.material.sk)
			for i := lo; i < hi; i++ {
				v, err := decryptOne(e.params, ecd, dec, e.material.id, ciphers[i])
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				out[i] = v
			}
		}(lo, hi)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return out, nil
}

func (e *Engine) noSecretKey() error {
	return fmt.Errorf("%w: engine holds no secret key", ErrKey)
}
