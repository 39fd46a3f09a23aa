// Package vault holds the password vault model and the operations that are
// independent of any connection.
//
// A Vault maps service → username → Entry and carries the user's saved
// servers. At rest every Entry stores:
//   - password: a token under the entry's own key
//   - key: the entry key wrapped under the device master key
//   - last-refresh: the date the entry was last written or rotated
//
// Merge reconciles a local vault with an incoming one (REPLACE or
// RECURSIVE), Preview describes what a merge would change, and
// RotateStaleKeys re-encrypts entries whose key is older than a given age.
package vault
