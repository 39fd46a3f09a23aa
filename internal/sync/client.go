package sync

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	logger "github.com/illarion/passync/internal/logging"
	"github.com/illarion/passync/internal/protocol"
	"github.com/illarion/passync/internal/vault"
)

// Client runs syncs for one user of this device.
type Client struct {
	User   string
	Master *crypto.Cipher // wraps the entry keys of the local vault
	Intro  *crypto.Key    // presented to the remote side
	Enroll bool           // send Intro in the hello so the remote can enroll it

	Timeout    time.Duration
	MaxMessage int
	Log        logger.Logger

	// OnState, when set, is called after every state change.
	OnState func(State)
}

// Result describes a finished sync.
type Result struct {
	Kind    Kind
	State   State
	Entries int    // entries sent or received
	Status  string // status string of the remote side, if any
}

// Applier persists a downloaded vault; its entry keys are already wrapped
// under the client's master key.
type Applier func(ctx context.Context, incoming *vault.Vault) error

// Download fetches the remote vault of the user and hands it to apply.
func (c *Client) Download(ctx context.Context, addr string, apply Applier) (*Result, error) {
	op := NewOperation(KindDownload)
	res := &Result{Kind: KindDownload}

	ch, closeConn, err := c.connect(ctx, addr, op)
	if err != nil {
		return c.finish(res, op, err)
	}
	defer closeConn()

	if err := ch.SendMessage([]byte(protocol.TokenDownload)); err != nil {
		return c.finish(res, op, err)
	}
	payloads, err := ch.ReceiveMessage(ctx)
	if err != nil {
		return c.finish(res, op, err)
	}
	if len(payloads) == 1 {
		if p := protocol.Decode(payloads[0]); !p.IsVault() {
			res.Status = p.Text
			return c.finish(res, op, fmt.Errorf("%w: %s", kerrors.ErrRemoteFailure, p.Text))
		}
	}
	services, err := protocol.DecodeVault(payloads)
	if err != nil {
		return c.finish(res, op, err)
	}
	incoming, err := protocol.OpenVault(services, ch.Session(), c.Master)
	if err != nil {
		return c.finish(res, op, err)
	}
	res.Entries = incoming.Len()
	closeConn()

	c.advance(op, StateMerging)
	if err := apply(ctx, incoming); err != nil {
		return c.finish(res, op, err)
	}
	c.advance(op, StatePersisted)
	return c.finish(res, op, nil)
}

// Upload sends v and asks the remote side to merge it with mode.
func (c *Client) Upload(ctx context.Context, addr string, v *vault.Vault, mode vault.MergeMode) (*Result, error) {
	kind := KindForMode(mode)
	op := NewOperation(kind)
	res := &Result{Kind: kind}

	if v.Len() == 0 {
		return c.finish(res, op, kerrors.ErrNothingToUpload)
	}
	ch, closeConn, err := c.connect(ctx, addr, op)
	if err != nil {
		return c.finish(res, op, err)
	}
	defer closeConn()

	payloads, err := protocol.EncodeVault(v, c.Master, ch.Session())
	if err != nil {
		return c.finish(res, op, err)
	}
	if err := ch.SendMessage(payloads...); err != nil {
		return c.finish(res, op, err)
	}
	if err := ch.SendMessage([]byte(mode.String())); err != nil {
		return c.finish(res, op, err)
	}
	res.Entries = v.Len()

	// The remote merges and persists before it answers
	c.advance(op, StateMerging)
	reply, err := ch.ReceiveMessage(ctx)
	if err != nil {
		return c.finish(res, op, err)
	}
	status, err := protocol.DecodeText(reply)
	if err != nil {
		return c.finish(res, op, err)
	}
	res.Status = status
	if status != protocol.StatusUpdated {
		return c.finish(res, op, fmt.Errorf("%w: %s", kerrors.ErrRemoteFailure, status))
	}
	c.advance(op, StatePersisted)
	return c.finish(res, op, nil)
}

// connect dials addr and runs the handshake. Nothing but the hello is sent
// when the handshake fails.
func (c *Client) connect(ctx context.Context, addr string, op *Operation) (*protocol.Channel, func(), error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = config.DefaultIOTimeout
	}
	maxMessage := c.MaxMessage
	if maxMessage == 0 {
		maxMessage = config.DefaultMaxMessage
	}

	c.advance(op, StateHandshaking)
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w: %w", kerrors.ErrHandshakeFailure, kerrors.ErrTransportFailure, err)
	}
	c.Log.Debugf("connected to %s", addr)

	ch := protocol.NewChannel(conn,
		protocol.WithTimeout(timeout),
		protocol.WithMaxMessage(maxMessage))
	if err := protocol.Initiate(ctx, ch, c.User, c.Intro, c.Enroll); err != nil {
		conn.Close()
		return nil, nil, err
	}
	c.advance(op, StateTransferring)

	closed := false
	return ch, func() {
		if !closed {
			closed = true
			conn.Close()
		}
	}, nil
}

func (c *Client) advance(op *Operation, next State) {
	if err := op.Advance(next); err != nil {
		c.Log.Debugf("%v", err)
		return
	}
	c.Log.Debugf("%s: %s", op.Kind, next)
	if c.OnState != nil {
		c.OnState(next)
	}
}

func (c *Client) finish(res *Result, op *Operation, err error) (*Result, error) {
	if err != nil {
		during := op.State()
		op.Fail(err)
		if c.OnState != nil {
			c.OnState(StateFailed)
		}
		c.Log.Debugf("%s failed during %s", op.Kind, during)
	}
	res.State = op.State()
	return res, err
}
