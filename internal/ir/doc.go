// Package ir provides the record value model shared by the store, its
// adapters and the binder.
//
// A record is an IRObject: string keys mapped onto a sealed set of value
// types. ir imports nothing internal so every other package can depend on it.
//
// Key design constraints:
//   - NO float types anywhere; numbers are int64
//   - null is representable (IRNull) so pushed data round-trips unchanged
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for persisted rows and request keys
package ir
