// Package phi implements field-level encryption for protected health information.
//
// # Envelope
//
// Every ciphertext is a single string v<N>:<iv>:<tag>:<ct> in lowercase hex, so it can
// be stored in an ordinary text column. A [Codec] only accepts envelopes stamped with its
// own key version.
//
// # Search hashes
//
// [Codec.SearchHash] produces a keyed, normalized digest for equality lookups on
// encrypted columns. The digest key is derived from the master key; it is not usable
// for decryption.
//
// # What this package must NOT do
//
//   - Fall back to a default or passphrase-derived key.
//   - Return the input, a placeholder, or partial plaintext on failure.
//   - Log plaintext or ciphertext bodies.
package phi
