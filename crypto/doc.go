// Package crypto wraps the additive-homomorphic primitive used to protect
// per-sample gradient values.
//
// The primitive is the BFV-family integer scheme from Lattigo (he/heint);
// this package does not implement any homomorphic math itself. It owns:
//
//   - Key material lifecycle: parsing the opaque key blob, deriving the key
//     fingerprint, and tearing keys down at Close
//   - Per-value randomized encryption and decryption
//   - Ciphertext addition without decryption
//   - The fixed binary form of a ciphertext element (key id || ciphertext)
//
// Key identifiers are carried alongside every ciphertext, not secretly
// inferred, so that Add can reject cross-key combination deterministically
// instead of silently producing garbage.
//
// The homomorphic parameters are fixed constants of wire-format version 1;
// see Parameters. Encryption draws fresh randomness on every call, so
// ciphertext equality never leaks plaintext equality, even for repeated
// encryption of the same value within one round.
package crypto
