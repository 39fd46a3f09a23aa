package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/keystore"
	logger "github.com/illarion/passync/internal/logging"
	"github.com/illarion/passync/internal/storage"
	psync "github.com/illarion/passync/internal/sync"
)

const (
	DBFile        = "passync.db"
	DirPermSecure = 0700 // Directory: owner rwx only
)

var (
	ErrAlreadyExists = errors.New("passync already initialized")
	ErrAborted       = errors.New("aborted")
)

// Options locate a device.
type Options struct {
	Config config.ClientConfig
	Log    logger.Logger

	// WorkDir confines export and import paths. Defaults to ".".
	WorkDir string
}

// Device is the local side of passync: one database, one master key and any
// number of accounts.
type Device struct {
	opts     Options
	db       *storage.Storage
	keys     *keystore.Store
	deviceID string
	master   *crypto.Key
	cipher   *crypto.Cipher
	locks    *psync.Locks
	recon    *psync.Reconciler
	log      logger.Logger
}

func dbPath(cfg config.ClientConfig) string {
	return filepath.Join(cfg.DataDir, DBFile)
}

// Init creates the device database and, unless one is already stored, a new
// master key.
func Init(opts Options) error {
	path := dbPath(opts.Config)
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyExists
	}
	if err := os.MkdirAll(opts.Config.DataDir, DirPermSecure); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	deviceID, err := db.DeviceID()
	if err != nil {
		return err
	}

	keys, err := keystore.New(opts.Config.MasterKeySource, opts.Config.DataDir, deviceID)
	if err != nil {
		return err
	}
	master, created, err := keys.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to set up master key: %w", err)
	}
	defer master.Destroy()
	if created {
		opts.Log.Infof("generated master key %s", master)
	} else {
		opts.Log.Infof("using existing master key %s", master)
	}
	return nil
}

// Open opens an initialized device.
func Open(opts Options) (*Device, error) {
	path := dbPath(opts.Config)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, kerrors.ErrNotInitialized
	}

	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	d, err := open(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func open(db *storage.Storage, opts Options) (*Device, error) {
	ok, err := db.IsInitialized()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kerrors.ErrNotInitialized
	}
	deviceID, err := db.DeviceID()
	if err != nil {
		return nil, err
	}

	keys, err := keystore.New(opts.Config.MasterKeySource, opts.Config.DataDir, deviceID)
	if err != nil {
		return nil, err
	}
	master, err := keys.Load()
	if err != nil {
		return nil, err
	}

	if opts.WorkDir == "" {
		opts.WorkDir = "."
	}
	cipher := crypto.NewCipher(master)
	locks := psync.NewLocks()
	return &Device{
		opts:     opts,
		db:       db,
		keys:     keys,
		deviceID: deviceID,
		master:   master,
		cipher:   cipher,
		locks:    locks,
		recon:    psync.NewReconciler(db, cipher, locks),
		log:      opts.Log,
	}, nil
}

// Close releases the database and clears the master key.
func (d *Device) Close() error {
	d.master.Destroy()
	return d.db.Close()
}

// ID returns the identifier of this device.
func (d *Device) ID() string {
	return d.deviceID
}

// Users lists the accounts stored on this device.
func (d *Device) Users() ([]string, error) {
	return d.db.ListUsers()
}

// Modified returns the time of the last vault write on this device.
func (d *Device) Modified() (time.Time, error) {
	return d.db.GetModified()
}

// Rotate re-encrypts the entries of the account older than maxAge under fresh
// entry keys.
func (d *Device) Rotate(ctx context.Context, s *Session, maxAge time.Duration) (int, error) {
	return d.recon.Rotate(ctx, s.User, maxAge)
}

// Compact reclaims unused space in the database.
func (d *Device) Compact() error {
	return d.db.Compact()
}

// Path returns the database file path.
func (d *Device) Path() string {
	return d.db.Path()
}
