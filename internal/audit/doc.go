// Package audit records sync server activity.
//
// The audit log is stored as JSON Lines (one JSON object per line), one entry
// per request served, key rotation or rejected connection. Entries name the
// user, the connection and the outcome; they never carry key material or
// passwords.
//
// Audit logging is best-effort. If a write fails the request it describes is
// not affected. Malformed lines are skipped when reading, to tolerate a
// partial final write.
package audit
