package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
)

const (
	TokenDone   = "DONE"
	TokenPrefix = "gAAAAA" // leading text of every Fernet token

	DefaultTimeout    = 30 * time.Second
	DefaultMaxMessage = 16 << 20
	maxLineBytes      = 4096
	readChunk         = 32 << 10
)

// DefaultMaxFrame fits the largest frame EncodeVault produces. Finding a
// frame costs a MAC per candidate length, so the bound keeps garbage cheap.
var DefaultMaxFrame = maxVaultFrame()

var done = []byte(TokenDone)

// ErrPeerClosed is returned when the peer closes the stream at a message
// boundary.
var ErrPeerClosed = fmt.Errorf("%w: peer closed the connection", kerrors.ErrTransportFailure)

// Conn is the part of net.Conn a Channel needs.
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// FrameKind classifies what Receive found on the stream.
type FrameKind int

const (
	// FrameMessage is one authenticated frame.
	FrameMessage FrameKind = iota + 1
	// FrameDone is the DONE terminator.
	FrameDone
	// FrameClosed means the peer closed the stream at a frame boundary.
	FrameClosed
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameDone:
		return "done"
	case FrameClosed:
		return "closed"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one unit read from a Channel.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout bounds every single read and write. Zero disables deadlines.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithMaxMessage bounds the payload bytes of one logical message.
func WithMaxMessage(n int) Option {
	return func(c *Channel) { c.maxMessage = n }
}

// WithMaxFrame bounds the bytes buffered while looking for one frame. Every
// buffered byte may be trial decrypted, so the bound also caps the work a
// peer can cause.
func WithMaxFrame(n int) Option {
	return func(c *Channel) { c.maxFrame = n }
}

// Channel frames messages over one connection. It is not safe for concurrent
// use; each connection is owned by a single goroutine.
type Channel struct {
	conn       Conn
	timeout    time.Duration
	maxMessage int
	maxFrame   int

	outer *crypto.Cipher // frames are tokens under this cipher
	inner *crypto.Cipher // optional second layer inside each frame

	buf        []byte
	nextBlocks int // smallest ciphertext block count not yet ruled out for buf
	chunk      []byte
}

// NewChannel wraps conn. Frames cannot be sent or received until a cipher is
// installed with Frame or Secure.
func NewChannel(conn Conn, opts ...Option) *Channel {
	c := &Channel{
		conn:       conn,
		timeout:    DefaultTimeout,
		maxMessage: DefaultMaxMessage,
		maxFrame:   DefaultMaxFrame,
		nextBlocks: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Frame installs a single framing cipher.
func (c *Channel) Frame(outer *crypto.Cipher) {
	c.outer, c.inner = outer, nil
}

// Secure installs the session cipher as the framing layer and inner as the
// layer beneath it.
func (c *Channel) Secure(session, inner *crypto.Cipher) {
	c.outer, c.inner = session, inner
}

// Session returns the framing cipher.
func (c *Channel) Session() *crypto.Cipher {
	return c.outer
}

// Send wraps payload and writes it as one frame.
func (c *Channel) Send(payload []byte) error {
	if c.outer == nil {
		return fmt.Errorf("%w: channel has no cipher", kerrors.ErrProtocolViolation)
	}
	var err error
	if c.inner != nil {
		if payload, err = c.inner.Wrap(payload); err != nil {
			return err
		}
	}
	token, err := c.outer.Wrap(payload)
	if err != nil {
		return err
	}
	return c.write(token)
}

// SendString is Send for text payloads.
func (c *Channel) SendString(s string) error {
	return c.Send([]byte(s))
}

// SendDone terminates the current logical message.
func (c *Channel) SendDone() error {
	return c.write(done)
}

// SendMessage sends each payload as a frame followed by DONE.
func (c *Channel) SendMessage(payloads ...[]byte) error {
	for _, p := range payloads {
		if err := c.Send(p); err != nil {
			return err
		}
	}
	return c.SendDone()
}

// SendLine writes a plaintext line. It is only used for the hello.
func (c *Channel) SendLine(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("%w: line contains a newline", kerrors.ErrProtocolViolation)
	}
	return c.write(append(append([]byte(nil), line...), '\n'))
}

// ReceiveLine reads a plaintext line of at most 4 KiB. Bytes after the newline
// stay buffered for Receive.
func (c *Channel) ReceiveLine(ctx context.Context) ([]byte, error) {
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			line := append([]byte(nil), c.buf[:i]...)
			c.consume(i + 1)
			return line, nil
		}
		if len(c.buf) > maxLineBytes {
			return nil, fmt.Errorf("%w: line longer than %d bytes", kerrors.ErrProtocolViolation, maxLineBytes)
		}
		if _, err := c.read(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf) == 0 {
					return nil, ErrPeerClosed
				}
				return nil, fmt.Errorf("%w: connection closed mid-line", kerrors.ErrTransportFailure)
			}
			return nil, err
		}
	}
}

// Receive returns the next frame. A frame is complete as soon as a prefix of
// the buffered bytes authenticates under the framing cipher; bytes after it
// stay buffered. A zero-length read is a stall and reading continues until
// data arrives or the read deadline passes.
func (c *Channel) Receive(ctx context.Context) (Frame, error) {
	if c.outer == nil {
		return Frame{}, fmt.Errorf("%w: channel has no cipher", kerrors.ErrProtocolViolation)
	}
	for {
		f, ok, err := c.extract()
		if err != nil || ok {
			return f, err
		}
		if len(c.buf) > c.maxFrame {
			return Frame{}, fmt.Errorf("%w: frame exceeds %d bytes", kerrors.ErrProtocolViolation, c.maxFrame)
		}

		if _, err := c.read(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf) == 0 {
					return Frame{Kind: FrameClosed}, nil
				}
				return Frame{}, fmt.Errorf("%w: connection closed after %d bytes of an incomplete frame", kerrors.ErrTransportFailure, len(c.buf))
			}
			return Frame{}, err
		}
	}
}

// ReceiveMessage collects frame payloads up to the next DONE. A clean close
// before the first frame returns ErrPeerClosed.
func (c *Channel) ReceiveMessage(ctx context.Context) ([][]byte, error) {
	var payloads [][]byte
	total := 0
	for {
		f, err := c.Receive(ctx)
		if err != nil {
			return nil, err
		}
		switch f.Kind {
		case FrameDone:
			return payloads, nil
		case FrameClosed:
			if len(payloads) == 0 {
				return nil, ErrPeerClosed
			}
			return nil, fmt.Errorf("%w: connection closed before DONE", kerrors.ErrTransportFailure)
		}
		total += len(f.Payload)
		if total > c.maxMessage {
			return nil, fmt.Errorf("%w: message exceeds %d bytes", kerrors.ErrProtocolViolation, c.maxMessage)
		}
		payloads = append(payloads, f.Payload)
	}
}

// extract takes one frame off the front of the buffer if one is complete.
func (c *Channel) extract() (Frame, bool, error) {
	if len(c.buf) == 0 {
		return Frame{}, false, nil
	}
	if bytes.HasPrefix(c.buf, done) {
		c.consume(len(done))
		return Frame{Kind: FrameDone}, true, nil
	}
	if !plausibleStart(c.buf) {
		return Frame{}, false, fmt.Errorf("%w: unexpected bytes at frame boundary", kerrors.ErrProtocolViolation)
	}

	for n := crypto.TokenSize(c.nextBlocks); n <= len(c.buf); n = crypto.TokenSize(c.nextBlocks) {
		payload, err := c.outer.Unwrap(c.buf[:n])
		if err == nil {
			c.consume(n)
			if c.inner != nil {
				if payload, err = c.inner.Unwrap(payload); err != nil {
					return Frame{}, false, fmt.Errorf("inner layer: %w", err)
				}
			}
			return Frame{Kind: FrameMessage, Payload: payload}, true, nil
		}
		c.nextBlocks++
	}

	// The sender finished a frame that never authenticated.
	if bytes.HasSuffix(c.buf, done) && isTokenLength(len(c.buf)-len(done)) {
		return Frame{}, false, fmt.Errorf("%w: frame terminated by DONE did not authenticate", kerrors.ErrAuthenticationFailure)
	}
	return Frame{}, false, nil
}

func (c *Channel) consume(n int) {
	c.buf = append(c.buf[:0], c.buf[n:]...)
	c.nextBlocks = 1
}

// read appends one chunk from the connection to the buffer.
func (c *Channel) read(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, err)
	}
	if c.chunk == nil {
		c.chunk = make([]byte, readChunk)
	}
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err := c.conn.Read(c.chunk)
	c.buf = append(c.buf, c.chunk[:n]...)
	if err == nil || (n > 0 && errors.Is(err, io.EOF)) {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, ctxErr)
	}
	if isTimeout(err) {
		return 0, fmt.Errorf("%w: read timed out after %s", kerrors.ErrTransportFailure, c.timeout)
	}
	return 0, fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, err)
}

func (c *Channel) write(b []byte) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, err)
		}
	}
	if _, err := c.conn.Write(b); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: write timed out after %s", kerrors.ErrTransportFailure, c.timeout)
		}
		return fmt.Errorf("%w: %w", kerrors.ErrTransportFailure, err)
	}
	return nil
}

// plausibleStart reports whether buf could begin a token or DONE.
func plausibleStart(buf []byte) bool {
	n := min(len(buf), len(TokenPrefix))
	if bytes.Equal(buf[:n], []byte(TokenPrefix)[:n]) {
		return true
	}
	n = min(len(buf), len(done))
	return bytes.Equal(buf[:n], done[:n])
}

func isTokenLength(n int) bool {
	for blocks := 1; ; blocks++ {
		size := crypto.TokenSize(blocks)
		if size >= n {
			return size == n
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
