// Package errors defines the sentinel errors shared across passync.
//
// Errors are grouped by the layer that produces them:
//   - Protocol errors classify sync failures (authentication, transport,
//     handshake, protocol order, remote status)
//   - Account errors cover local users and their login material
//   - Vault errors cover entries, saved servers and the stored document
//
// Callers wrap these with fmt.Errorf and test them with errors.Is.
package errors
