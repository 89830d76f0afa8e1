// Package keys holds the signing primitives and the local key keeper used by
// controllers.
//
// Public keys travel as "<scheme>:<base64>" strings, for example
// "ed25519:MCow...". The same string is used as the identifier of a
// non-transferable witness.
//
// Stable:
//   - Key string parsing, signing and verification.
//   - Deterministic seed derivation.
//
// Experimental:
//   - The filesystem Keeper and its encrypted on-disk layout.
package keys
