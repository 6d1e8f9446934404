// Package testutil provides shared fixtures for tests. Key generation under
// the version-1 parameters is expensive, so one key pair is generated per
// test process and shared.
package testutil

import (
	"sync"
	"testing"

	"github.com/fedshield/secureproc/crypto"
)

var (
	once       sync.Once
	material   *crypto.KeyMaterial
	fullBlob   []byte
	publicBlob []byte
	genErr     error
)

func generate() {
	material, genErr = crypto.GenerateKeyMaterial()
	if genErr != nil {
		return
	}
	fullBlob, genErr = material.Blob(true)
	if genErr != nil {
		return
	}
	publicBlob, genErr = material.Blob(false)
}

// KeyBlob returns a key configuration blob including the secret key.
func KeyBlob(t *testing.T) []byte {
	t.Helper()
	once.Do(generate)
	if genErr != nil {
		t.Fatalf("generate key material: %v", genErr)
	}
	return fullBlob
}

// PublicKeyBlob returns the matching public-only blob, as a passive
// participant would receive.
func PublicKeyBlob(t *testing.T) []byte {
	t.Helper()
	once.Do(generate)
	if genErr != nil {
		t.Fatalf("generate key material: %v", genErr)
	}
	return publicBlob
}

// ForeignKeyBlob returns a blob for an unrelated key pair, for key-isolation
// tests. Unlike KeyBlob it is not cached.
func ForeignKeyBlob(t *testing.T) []byte {
	t.Helper()
	m, err := crypto.GenerateKeyMaterial()
	if err != nil {
		t.Fatalf("generate foreign key material: %v", err)
	}
	blob, err := m.Blob(true)
	if err != nil {
		t.Fatalf("serialize foreign key material: %v", err)
	}
	return blob
}
