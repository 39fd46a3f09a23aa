package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/illarion/passync/internal/config"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/protocol"
	psync "github.com/illarion/passync/internal/sync"
	"github.com/illarion/passync/internal/vault"
)

// SyncOptions tune one sync.
type SyncOptions struct {
	// Enroll presents this device's key so the remote side can enroll it.
	Enroll bool

	// Confirm is asked before a download drops local entries. Returning
	// false aborts the download with ErrAborted. Nil applies without asking.
	Confirm func(vault.Preview) bool

	// OnState is called on every state change.
	OnState func(psync.State)
}

// BeginSync runs one sync of the account with target, a saved server title or
// a host:port. Downloads replace the local entries; uploads ask the server
// to merge with kind's mode.
func (d *Device) BeginSync(ctx context.Context, s *Session, kind psync.Kind, target string, opts SyncOptions) (*psync.Result, error) {
	addr, err := d.resolve(ctx, s, target, config.DefaultServerPort)
	if err != nil {
		return nil, err
	}
	c := d.client(s, opts)

	if kind == psync.KindDownload {
		return c.Download(ctx, addr, d.applier(s, opts.Confirm))
	}
	v, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, addr, v, kind.MergeMode())
}

// PreviewUpload shows what a REPLACE upload to target would change on the
// remote side. A remote without data for the account counts as empty.
func (d *Device) PreviewUpload(ctx context.Context, s *Session, target string, opts SyncOptions) (vault.Preview, error) {
	addr, err := d.resolve(ctx, s, target, config.DefaultServerPort)
	if err != nil {
		return vault.Preview{}, err
	}

	remote := vault.New()
	c := d.client(s, SyncOptions{Enroll: opts.Enroll})
	res, err := c.Download(ctx, addr, func(_ context.Context, incoming *vault.Vault) error {
		remote = incoming
		return nil
	})
	if err != nil && !(errors.Is(err, kerrors.ErrRemoteFailure) && res.Status == protocol.StatusDownloadFailed) {
		return vault.Preview{}, err
	}

	local, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return vault.Preview{}, err
	}
	return vault.PreviewMerge(remote, local, vault.ModeReplace), nil
}

// Recover restores the account of user from target. An account whose local
// document is missing or unreadable is recreated with password first; an
// intact one must accept password.
func (d *Device) Recover(ctx context.Context, user string, password []byte, target string, opts SyncOptions) (*Session, *psync.Result, error) {
	s, err := d.Login(ctx, user, password)
	if recoverable(err) {
		d.log.Warnf("local data of %q is unusable (%v), starting over", user, err)
		if err := d.createAccount(ctx, user, password, true); err != nil {
			return nil, nil, err
		}
		s, err = d.Login(ctx, user, password)
	}
	if err != nil {
		return nil, nil, err
	}

	res, err := d.BeginSync(ctx, s, psync.KindDownload, target, opts)
	return s, res, err
}

// Send uploads the account to a device running Receive. target defaults to
// the migration port.
func (d *Device) Send(ctx context.Context, s *Session, target string, mode vault.MergeMode, opts SyncOptions) (*psync.Result, error) {
	addr, err := d.resolve(ctx, s, target, d.opts.Config.MigrationPort)
	if err != nil {
		return nil, err
	}
	v, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return nil, err
	}
	opts.Enroll = true
	return d.client(s, opts).Upload(ctx, addr, v, mode)
}

// Receive accepts one connection on ln and takes uploads for the logged-in
// account from it. Any device may enroll, so downloads and other accounts are
// refused.
func (d *Device) Receive(ctx context.Context, s *Session, ln net.Listener) error {
	srv := psync.NewServer(d.db, d.master, psync.ServerOptions{
		Enroll:     config.EnrollAlways,
		OnlyUser:   s.User,
		UploadOnly: true,
		Timeout:    d.opts.Config.IOTimeout.Duration,
		MaxMessage: d.opts.Config.MaxMessageBytes,
		Log:        d.log,
		Locks:      d.locks,
	})

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	d.log.Infof("waiting for a device on %s", ln.Addr())
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to accept connection: %w", err)
	}
	return srv.ServeConn(ctx, conn)
}

func (d *Device) client(s *Session, opts SyncOptions) *psync.Client {
	return &psync.Client{
		User:       s.User,
		Master:     d.cipher,
		Intro:      s.intro,
		Enroll:     opts.Enroll,
		Timeout:    d.opts.Config.IOTimeout.Duration,
		MaxMessage: d.opts.Config.MaxMessageBytes,
		Log:        d.log,
		OnState:    opts.OnState,
	}
}

// applier replaces the local entries of the account with a download.
func (d *Device) applier(s *Session, confirm func(vault.Preview) bool) psync.Applier {
	return func(ctx context.Context, incoming *vault.Vault) error {
		if confirm != nil {
			local, err := d.recon.Snapshot(ctx, s.User)
			if err != nil {
				return err
			}
			if p := vault.PreviewMerge(local, incoming, vault.ModeReplace); len(p.Removed) > 0 && !confirm(p) {
				return ErrAborted
			}
		}
		_, err := d.recon.Apply(ctx, s.User, incoming, vault.ModeReplace)
		return err
	}
}

// resolve turns a saved server title or an address into host:port.
func (d *Device) resolve(ctx context.Context, s *Session, target string, defaultPort int) (string, error) {
	if target == "" {
		return "", fmt.Errorf("%w: no server given", kerrors.ErrServerNotFound)
	}
	v, err := d.recon.Snapshot(ctx, s.User)
	if err == nil {
		if ep, ok := v.Servers[target]; ok {
			return ep.HostPort(), nil
		}
	}
	if _, _, splitErr := net.SplitHostPort(target); splitErr == nil {
		return target, nil
	}
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(target, strconv.Itoa(defaultPort)), nil
}
