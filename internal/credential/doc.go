// Package credential mints and authenticates the QR payload printed on a
// ticket.
//
// # Wire format
//
// A payload is the unpadded base64url encoding of
//
//	[version (1 byte)] [CBOR claims] [32-byte keyed BLAKE3 tag]
//
// The claims map uses integer keys (ticket id, event id, issued-at in Unix
// seconds) and Core Deterministic Encoding, so encoding the same ticket
// twice yields the same payload. The tag covers the version byte and the
// claims bytes and is computed with the key registered for that version.
//
// # Key rotation
//
// A Keyring holds every key version that is still accepted. Encode always
// uses the active version; Decode looks up the version byte, so tickets
// minted under an older key keep scanning after the active key changes.
// Retiring a version is done by removing it from the ring.
package credential
