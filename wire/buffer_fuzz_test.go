package wire

import (
	"testing"
)

func FuzzDeserialize(f *testing.F) {
	format := Format{CipherSize: 48}

	// Seed corpus
	f.Add([]byte{})
	f.Add(make([]byte, HeaderSize))
	if seed, err := format.Serialize(ElementEncoded, 7, [][]byte{make([]byte, EncodedSize)}); err == nil {
		f.Add(seed)
	}
	if seed, err := format.Serialize(ElementCipher, 9, [][]byte{make([]byte, 48)}); err == nil {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		typ, round, elems, err := format.Deserialize(data)
		if err != nil {
			// Rejection is the expected outcome for arbitrary input.
			return
		}

		// Invariant 1: accepted buffers re-serialize to the same bytes.
		out, err := format.Serialize(typ, round, elems)
		if err != nil {
			t.Fatalf("re-serialize of accepted buffer failed: %v", err)
		}
		if len(out) != len(data) {
			t.Fatalf("re-serialized length %d, original %d", len(out), len(data))
		}
		for i := range out {
			if out[i] != data[i] {
				t.Fatalf("re-serialized byte %d differs", i)
			}
		}

		// Invariant 2: elements exactly cover the payload.
		size := EncodedSize
		if typ == ElementCipher {
			size = format.CipherSize
		}
		if HeaderSize+len(elems)*size != len(data) {
			t.Fatalf("%d elements of %d bytes do not cover %d payload bytes", len(elems), size, len(data)-HeaderSize)
		}
	})
}
