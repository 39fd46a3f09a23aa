package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// DocumentStore loads and saves whole user documents.
type DocumentStore interface {
	LoadDocument(user string) (*vault.Document, error)
	SaveDocument(doc *vault.Document) error
}

// Reconciler applies changes to stored documents, one user at a time. All
// entry keys it handles are wrapped under master.
type Reconciler struct {
	store  DocumentStore
	master *crypto.Cipher
	locks  *Locks
	now    func() time.Time
}

// NewReconciler returns a reconciler over store.
func NewReconciler(store DocumentStore, master *crypto.Cipher, locks *Locks) *Reconciler {
	if locks == nil {
		locks = NewLocks()
	}
	return &Reconciler{store: store, master: master, locks: locks, now: time.Now}
}

// Master returns the cipher entry keys are wrapped under.
func (r *Reconciler) Master() *crypto.Cipher {
	return r.master
}

// Today returns the reconciler's current day.
func (r *Reconciler) Today() vault.Date {
	return vault.DateOf(r.now())
}

// Snapshot returns a copy of the stored vault of user.
func (r *Reconciler) Snapshot(ctx context.Context, user string) (*vault.Vault, error) {
	unlock, err := r.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := r.store.LoadDocument(user)
	if err != nil {
		return nil, err
	}
	return doc.Vault.Clone(), nil
}

// Apply merges incoming into the stored vault of user and persists the
// result. A user without a document gets a new one. Login fields and saved
// servers of the stored document are kept.
func (r *Reconciler) Apply(ctx context.Context, user string, incoming *vault.Vault, mode vault.MergeMode) (*vault.Vault, error) {
	unlock, err := r.locks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := r.store.LoadDocument(user)
	if errors.Is(err, kerrors.ErrUserNotFound) {
		doc = vault.NewDocument(user)
	} else if err != nil {
		return nil, err
	}

	merged, err := vault.Merge(doc.Vault, incoming, mode, r.Today())
	if err != nil {
		return nil, err
	}

	// The connection may have died while waiting for the lock
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc.Vault = merged
	if err := r.store.SaveDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to save vault of %q: %w", user, err)
	}
	return merged.Clone(), nil
}

// Update runs fn on the stored document of user and saves the result unless
// fn fails.
func (r *Reconciler) Update(ctx context.Context, user string, fn func(doc *vault.Document) error) error {
	unlock, err := r.locks.Lock(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := r.store.LoadDocument(user)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.store.SaveDocument(doc)
}

// Rotate re-encrypts the stale entries of user. It returns how many entries
// were rotated; nothing is written when none were.
func (r *Reconciler) Rotate(ctx context.Context, user string, maxAge time.Duration) (int, error) {
	unlock, err := r.locks.Lock(ctx, user)
	if err != nil {
		return 0, err
	}
	defer unlock()

	doc, err := r.store.LoadDocument(user)
	if err != nil {
		return 0, err
	}
	rotated, n, err := vault.RotateStaleKeys(doc.Vault, r.master, r.Today(), maxAge)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	doc.Vault = rotated
	if err := r.store.SaveDocument(doc); err != nil {
		return 0, fmt.Errorf("failed to save vault of %q: %w", user, err)
	}
	return n, nil
}
