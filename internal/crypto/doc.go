// Package crypto provides the cipher envelope used by passync.
//
// Every wrap produces a Fernet token:
//   - AES-128-CBC with a random IV and PKCS#7 padding
//   - HMAC-SHA256 over version, timestamp, IV and ciphertext
//   - URL-safe base64 framing, always starting with "gAAAAA"
//
// Unwrap never returns garbage: a token that does not authenticate under the
// cipher's key fails with errors.ErrAuthenticationFailure.
//
// Introduction keys are derived from the master key with HKDF-SHA256 so the
// master key itself never leaves the device.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Key.Destroy() when a key is no longer needed
package crypto
