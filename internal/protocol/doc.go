// Package protocol implements the passync wire protocol over a plain byte
// stream.
//
// A Channel turns the stream into discrete messages. Messages carry no length
// prefix: every frame is a Fernet token, and a frame ends where a prefix of
// the buffered bytes first authenticates. The literal DONE closes a logical
// message, which may span several frames.
//
// Before the handshake a Channel frames with the introduction key only. After
// Secure every payload is wrapped twice: first under the introduction key,
// then under the session key, and unwrapped in reverse order.
package protocol
