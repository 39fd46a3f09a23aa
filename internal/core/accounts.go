package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/keystore"
	"github.com/illarion/passync/internal/vault"
)

// Session is a logged-in account.
type Session struct {
	User  string
	intro *crypto.Key // presented to sync servers
}

// Register creates an account protected by password.
func (d *Device) Register(ctx context.Context, user string, password []byte) error {
	return d.createAccount(ctx, user, password, false)
}

// createAccount writes a new login document for user. Unless overwrite is
// set, an existing document makes it fail with ErrUserExists.
func (d *Device) createAccount(ctx context.Context, user string, password []byte, overwrite bool) error {
	if err := vault.ValidateUsername(user); err != nil {
		return err
	}
	if len(password) == 0 {
		return fmt.Errorf("%w: password cannot be empty", kerrors.ErrInvalidName)
	}

	unlock, err := d.locks.Lock(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	if !overwrite {
		exists, err := d.db.HasDocument(user)
		if err != nil {
			return err
		}
		if exists {
			return kerrors.ErrUserExists
		}
	}

	userKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	defer userKey.Destroy()

	wrappedPassword, err := crypto.NewCipher(userKey).Wrap(password)
	if err != nil {
		return err
	}
	wrappedKey, err := d.cipher.WrapKey(userKey)
	if err != nil {
		return err
	}

	doc := vault.NewDocument(user)
	doc.Password = string(wrappedPassword)
	doc.UserKey = wrappedKey
	if err := d.db.SaveDocument(doc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	d.log.Infof("registered %q", user)
	return nil
}

// Login checks password against the account of user.
func (d *Device) Login(ctx context.Context, user string, password []byte) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := d.db.LoadDocument(user)
	if err != nil {
		return nil, err
	}
	if !doc.HasLogin() {
		return nil, fmt.Errorf("%w: %q has no login", kerrors.ErrCorruptVault, user)
	}

	userKey, err := d.cipher.UnwrapKey(doc.UserKey)
	if err != nil {
		return nil, fmt.Errorf("%w: user key of %q: %w", kerrors.ErrCorruptVault, user, err)
	}
	defer userKey.Destroy()

	stored, err := crypto.NewCipher(userKey).Unwrap([]byte(doc.Password))
	if err != nil {
		return nil, fmt.Errorf("%w: login of %q: %w", kerrors.ErrCorruptVault, user, err)
	}
	defer crypto.ClearBytes(stored)

	if !crypto.ConstantTimeCompare(stored, password) {
		return nil, kerrors.ErrWrongPassword
	}

	intro, err := crypto.DeriveIntroductionKey(d.master, user)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, intro: intro}, nil
}

// DeleteUser removes an account and its vault after checking password.
func (d *Device) DeleteUser(ctx context.Context, user string, password []byte) error {
	if _, err := d.Login(ctx, user, password); err != nil {
		return err
	}

	unlock, err := d.locks.Lock(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.db.DeleteDocument(user); err != nil {
		return err
	}
	// The account may never have saved its password
	if err := keystore.DeletePassword(d.deviceID, user); err != nil {
		d.log.Debugf("no keyring password for %q: %v", user, err)
	}
	d.log.Infof("deleted %q", user)
	return nil
}

// recoverable reports whether err means the local account is unusable and
// may be recreated.
func recoverable(err error) bool {
	return errors.Is(err, kerrors.ErrUserNotFound) || errors.Is(err, kerrors.ErrCorruptVault)
}
