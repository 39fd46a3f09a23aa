package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/security"
	"github.com/illarion/passync/internal/vault"
)

const FilePermSecure = 0600 // File: owner rw only

// Export writes the stored document of the account to path, which must lie
// inside the working directory. Passwords stay wrapped under this device's
// master key.
func (d *Device) Export(ctx context.Context, s *Session, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, err := d.db.LoadDocument(s.User)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode vault: %w", err)
	}

	validator, err := security.New(d.opts.WorkDir)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize path validator: %w", err)
	}
	defer validator.Close()

	if err := validator.WriteFileAtomic(path, data, FilePermSecure); err != nil {
		return 0, err
	}
	return doc.Vault.Len(), nil
}

// Import merges the entries of a file written by Export on this device into
// the account. Entries that do not open with this device's master key are
// refused before anything is changed.
func (d *Device) Import(ctx context.Context, s *Session, path string, mode vault.MergeMode) (int, error) {
	validator, err := security.New(d.opts.WorkDir)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize path validator: %w", err)
	}
	defer validator.Close()

	data, err := validator.ReadFileInRoot(path)
	if err != nil {
		return 0, err
	}
	var doc vault.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		if !errors.Is(err, kerrors.ErrCorruptVault) {
			err = fmt.Errorf("%w: %w", kerrors.ErrCorruptVault, err)
		}
		return 0, err
	}
	if doc.Vault.Len() == 0 {
		return 0, kerrors.ErrNothingToUpload
	}

	for _, r := range doc.Vault.Refs() {
		e, _ := doc.Vault.Get(r.Service, r.Username)
		password, err := vault.OpenEntry(e, d.cipher)
		if err != nil {
			return 0, fmt.Errorf("%w: %s does not belong to this device: %w", kerrors.ErrCorruptVault, r, err)
		}
		if len(password) > vault.MaxPasswordLength {
			return 0, fmt.Errorf("%w: %s: password longer than %d bytes", kerrors.ErrInvalidName, r, vault.MaxPasswordLength)
		}
	}

	if _, err := d.recon.Apply(ctx, s.User, doc.Vault, mode); err != nil {
		return 0, err
	}
	return doc.Vault.Len(), nil
}
