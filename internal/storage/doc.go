// Package storage provides the BBolt database behind a passync data directory.
//
// Database structure uses three buckets:
//   - config: schema version, timestamps and the device id
//   - vaults: one record per user holding the at-rest document and its SHA-256
//   - clients: introduction keys enrolled by remote devices (server side only)
//
// Every document write is a single BBolt transaction, so a crash leaves either
// the old or the new document. The checksum is verified on every load.
package storage
