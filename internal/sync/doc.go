// Package sync drives vault synchronization between devices and servers.
//
// Every sync operation moves through IDLE, HANDSHAKING, TRANSFERRING and
// MERGING to PERSISTED, or to FAILED from any of them. A document is only
// written in the MERGING step, under a per-user lock, so a connection that
// dies earlier leaves stored data untouched.
//
// Server serves many connections at once, one goroutine each. Client dials
// a server or a receiving device and runs one download or upload.
package sync
