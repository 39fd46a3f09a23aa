package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/illarion/passync/internal/audit"
	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	logger "github.com/illarion/passync/internal/logging"
	"github.com/illarion/passync/internal/protocol"
	"github.com/illarion/passync/internal/storage"
	"github.com/illarion/passync/internal/vault"

	"github.com/google/uuid"
)

// Store is the storage a Server needs.
type Store interface {
	DocumentStore
	ListUsers() ([]string, error)
	ClientKey(user string) (*storage.ClientRecord, error)
	EnrollClient(user string, rec storage.ClientRecord) error
	TouchClient(user string, at time.Time) error
}

// ServerOptions configures a Server. Zero values select the defaults.
type ServerOptions struct {
	Enroll     string // config.Enroll* policy
	OnlyUser   string // when set, every other user is refused
	UploadOnly bool   // refuse downloads
	Timeout    time.Duration
	MaxMessage int
	Audit      *audit.Logger
	Log        logger.Logger
	Locks      *Locks
}

// Server is the listening side of sync. It serves every connection on its
// own goroutine; connections for the same user serialize on the user lock
// only while merging.
type Server struct {
	store  Store
	master *crypto.Cipher
	recon  *Reconciler
	opts   ServerOptions
	log    logger.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer returns a server storing vaults in store under master.
func NewServer(store Store, master *crypto.Key, opts ServerOptions) *Server {
	if opts.Enroll == "" {
		opts.Enroll = config.EnrollFirstUse
	}
	if opts.Timeout == 0 {
		opts.Timeout = config.DefaultIOTimeout
	}
	if opts.MaxMessage == 0 {
		opts.MaxMessage = config.DefaultMaxMessage
	}
	if opts.Locks == nil {
		opts.Locks = NewLocks()
	}
	cipher := crypto.NewCipher(master)
	return &Server{
		store:  store,
		master: cipher,
		recon:  NewReconciler(store, cipher, opts.Locks),
		opts:   opts,
		log:    opts.Log,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until ctx is done or the listener fails. On
// return the listener and all live connections are closed and every
// connection goroutine has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.shutdown()

	s.log.Infof("listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.ServeConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ServeConn runs the handshake and then serves requests on conn until the
// peer closes it or an error occurs. conn is closed on return.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.WithPrefix("conn=" + id[:8])
	base := audit.Entry{Conn: id, Remote: conn.RemoteAddr().String()}
	log.Debugf("accepted %s", conn.RemoteAddr())

	ch := protocol.NewChannel(conn,
		protocol.WithTimeout(s.opts.Timeout),
		protocol.WithMaxMessage(s.opts.MaxMessage))

	hello, err := protocol.Accept(ctx, ch, s)
	if err != nil {
		entry := base
		entry.Operation, entry.Outcome, entry.Detail = audit.OpHandshake, audit.OutcomeRejected, err.Error()
		if hello != nil {
			entry.User = hello.User
		}
		s.opts.Audit.Log(entry)
		log.Warnf("handshake failed: %v", err)
		return err
	}
	base.User = hello.User
	log = log.WithPrefix("user=" + hello.User)
	log.Infof("session established")

	for {
		payloads, err := ch.ReceiveMessage(ctx)
		if errors.Is(err, protocol.ErrPeerClosed) {
			log.Debugf("peer closed")
			return nil
		}
		if err != nil {
			log.Warnf("receive failed: %v", err)
			return err
		}
		if err := s.serveRequest(ctx, ch, hello.User, payloads, base, log); err != nil {
			return err
		}
	}
}

// serveRequest answers one request. A returned error ends the connection.
func (s *Server) serveRequest(ctx context.Context, ch *protocol.Channel, user string, first [][]byte, base audit.Entry, log logger.Logger) error {
	if len(first) == 1 {
		if p := protocol.Decode(first[0]); !p.IsVault() {
			if p.Text == protocol.TokenDownload {
				if s.opts.UploadOnly {
					log.Warnf("download refused")
					s.audit(base, audit.OpDownload, audit.OutcomeRejected, "", 0, "downloads are disabled")
					return ch.SendMessage([]byte(protocol.StatusDownloadFailed))
				}
				return s.serveDownload(ctx, ch, user, base, log)
			}
			// Nothing else is a valid single text request
			s.audit(base, audit.OpUpload, audit.OutcomeRejected, "", 0, "unknown command")
			ch.SendMessage([]byte(protocol.StatusInvalidData))
			return fmt.Errorf("%w: unknown command from %s", kerrors.ErrProtocolViolation, user)
		}
	}
	return s.serveUpload(ctx, ch, user, first, base, log)
}

func (s *Server) serveDownload(ctx context.Context, ch *protocol.Channel, user string, base audit.Entry, log logger.Logger) error {
	op := established(KindDownload)

	v, err := s.recon.Snapshot(ctx, user)
	if err != nil {
		op.Fail(err)
		log.Warnf("download: %v", err)
		s.audit(base, audit.OpDownload, audit.OutcomeFailed, "", 0, err.Error())
		return ch.SendMessage([]byte(protocol.StatusDownloadFailed))
	}
	payloads, err := protocol.EncodeVault(v, s.master, ch.Session())
	if err != nil {
		op.Fail(err)
		log.Errorf("download: %v", err)
		s.audit(base, audit.OpDownload, audit.OutcomeFailed, "", 0, err.Error())
		return ch.SendMessage([]byte(protocol.StatusDownloadFailed))
	}
	if err := ch.SendMessage(payloads...); err != nil {
		op.Fail(err)
		s.audit(base, audit.OpDownload, audit.OutcomeFailed, "", v.Len(), err.Error())
		return err
	}
	op.Advance(StatePersisted)
	log.Infof("sent %d entries", v.Len())
	s.audit(base, audit.OpDownload, audit.OutcomeOK, "", v.Len(), "")
	return nil
}

func (s *Server) serveUpload(ctx context.Context, ch *protocol.Channel, user string, data [][]byte, base audit.Entry, log logger.Logger) error {
	// The mode always follows the data; read it before answering
	modeMsg, err := ch.ReceiveMessage(ctx)
	if err != nil {
		s.audit(base, audit.OpUpload, audit.OutcomeFailed, "", 0, err.Error())
		return err
	}

	reject := func(status string, cause error) error {
		log.Warnf("upload rejected: %v", cause)
		s.audit(base, audit.OpUpload, audit.OutcomeRejected, "", 0, cause.Error())
		return ch.SendMessage([]byte(status))
	}

	text, err := protocol.DecodeText(modeMsg)
	if err != nil {
		return reject(protocol.StatusInvalidMode, err)
	}
	mode, err := vault.ParseMergeMode(text)
	if err != nil {
		return reject(protocol.StatusInvalidMode, err)
	}
	op := established(KindForMode(mode))

	services, err := protocol.DecodeVault(data)
	if err != nil {
		op.Fail(err)
		return reject(protocol.StatusInvalidData, err)
	}
	if len(services) == 0 {
		op.Fail(kerrors.ErrNothingToUpload)
		return reject(protocol.StatusInvalidData, kerrors.ErrNothingToUpload)
	}
	incoming, err := protocol.OpenVault(services, ch.Session(), s.master)
	if err != nil {
		op.Fail(err)
		return reject(protocol.StatusInvalidData, err)
	}

	op.Advance(StateMerging)
	merged, err := s.recon.Apply(ctx, user, incoming, mode)
	if err != nil {
		op.Fail(err)
		log.Errorf("merge failed: %v", err)
		s.audit(base, audit.OpUpload, audit.OutcomeFailed, mode.String(), incoming.Len(), err.Error())
		return ch.SendMessage([]byte(protocol.StatusUpdateFailed))
	}
	op.Advance(StatePersisted)

	log.Infof("%s upload of %d entries, vault now holds %d", mode, incoming.Len(), merged.Len())
	s.audit(base, audit.OpUpload, audit.OutcomeOK, mode.String(), incoming.Len(), "")
	return ch.SendMessage([]byte(protocol.StatusUpdated))
}

// established returns an operation whose connection already completed the
// handshake.
func established(kind Kind) *Operation {
	op := NewOperation(kind)
	op.Advance(StateHandshaking)
	op.Advance(StateTransferring)
	return op
}

func (s *Server) audit(base audit.Entry, op, outcome, mode string, entries int, detail string) {
	base.Operation = op
	base.Outcome = outcome
	base.Mode = mode
	base.Entries = entries
	base.Detail = detail
	s.opts.Audit.Log(base)
}

// Introduce resolves the introduction key of the device saying hello,
// enrolling it when the policy allows.
func (s *Server) Introduce(ctx context.Context, hello *protocol.Hello) (*crypto.Key, error) {
	if s.opts.OnlyUser != "" && hello.User != s.opts.OnlyUser {
		return nil, fmt.Errorf("%w: only %q is accepted here", kerrors.ErrUserNotFound, s.opts.OnlyUser)
	}

	unlock, err := s.opts.Locks.Lock(ctx, hello.User)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.ClientKey(hello.User)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		key, err := s.master.UnwrapKey(rec.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: enrolled key of %q: %w", kerrors.ErrCorruptVault, hello.User, err)
		}
		if rec.Fingerprint == hello.Fingerprint && key.Fingerprint() == hello.Fingerprint {
			if err := s.store.TouchClient(hello.User, time.Now()); err != nil {
				s.log.Warnf("failed to record last use of %q: %v", hello.User, err)
			}
			return key, nil
		}
		if s.opts.Enroll != config.EnrollAlways {
			return nil, fmt.Errorf("%w: device key of %q does not match the enrolled one", kerrors.ErrAuthenticationFailure, hello.User)
		}
	} else if s.opts.Enroll == config.EnrollNever {
		return nil, fmt.Errorf("%w: %q has no enrolled device", kerrors.ErrUserNotFound, hello.User)
	}

	if hello.Key == "" {
		return nil, fmt.Errorf("%w: %q is not enrolled and sent no key", kerrors.ErrUserNotFound, hello.User)
	}
	key, err := crypto.ParseKey(hello.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: hello key: %w", kerrors.ErrProtocolViolation, err)
	}
	if key.Fingerprint() != hello.Fingerprint {
		return nil, fmt.Errorf("%w: hello key does not match its fingerprint", kerrors.ErrProtocolViolation)
	}
	wrapped, err := s.master.WrapKey(key)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.store.EnrollClient(hello.User, storage.ClientRecord{
		Key:         wrapped,
		Fingerprint: hello.Fingerprint,
		Enrolled:    now,
		LastSeen:    now,
	}); err != nil {
		return nil, fmt.Errorf("failed to enroll %q: %w", hello.User, err)
	}

	s.log.Infof("enrolled a device for %q", hello.User)
	s.opts.Audit.Log(audit.Entry{User: hello.User, Operation: audit.OpEnroll, Outcome: audit.OutcomeOK})
	return key, nil
}

// RotateStaleKeys rotates the stale entries of every stored user and returns
// the total number rotated. A failing user does not stop the others.
func (s *Server) RotateStaleKeys(ctx context.Context, maxAge time.Duration) (int, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, user := range users {
		n, err := s.recon.Rotate(ctx, user, maxAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", user, err))
			s.opts.Audit.Log(audit.Entry{User: user, Operation: audit.OpRotate, Outcome: audit.OutcomeFailed, Detail: err.Error()})
			continue
		}
		if n > 0 {
			s.opts.Audit.Log(audit.Entry{User: user, Operation: audit.OpRotate, Outcome: audit.OutcomeOK, Entries: n})
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// RunRotation calls RotateStaleKeys every interval until ctx is done.
func (s *Server) RunRotation(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RotateStaleKeys(ctx, maxAge)
			if err != nil {
				s.log.Errorf("key rotation: %v", err)
			}
			if n > 0 {
				s.log.Infof("rotated %d entry keys", n)
			}
		}
	}
}
