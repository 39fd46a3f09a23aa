package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// EntryInfo describes a stored entry without its password.
type EntryInfo struct {
	Service     string
	Username    string
	LastRefresh vault.Date
}

// ServerInfo is a saved sync endpoint.
type ServerInfo struct {
	Title string
	vault.Endpoint
}

func validateEntry(service, username string) error {
	if err := vault.ValidateName("service", service); err != nil {
		return err
	}
	return vault.ValidateName("username", username)
}

// ListEntries returns the entries of the account sorted by service and
// username.
func (d *Device) ListEntries(ctx context.Context, s *Session) ([]EntryInfo, error) {
	v, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return nil, err
	}
	out := make([]EntryInfo, 0, v.Len())
	for _, r := range v.Refs() {
		e, _ := v.Get(r.Service, r.Username)
		out = append(out, EntryInfo{Service: r.Service, Username: r.Username, LastRefresh: e.LastRefresh})
	}
	return out, nil
}

// AddEntry stores a new entry. It fails with ErrEntryExists when the entry is
// already there.
func (d *Device) AddEntry(ctx context.Context, s *Session, service, username, password string) error {
	return d.putEntry(ctx, s, service, username, password, func(exists bool) error {
		if exists {
			return fmt.Errorf("%w: %s/%s", kerrors.ErrEntryExists, service, username)
		}
		return nil
	})
}

// EditEntry changes the password of an existing entry. The entry gets a fresh
// entry key.
func (d *Device) EditEntry(ctx context.Context, s *Session, service, username, password string) error {
	return d.putEntry(ctx, s, service, username, password, func(exists bool) error {
		if !exists {
			return fmt.Errorf("%w: %s/%s", kerrors.ErrEntryNotFound, service, username)
		}
		return nil
	})
}

// UpsertEntry stores the entry whether or not it exists and reports whether
// it was created.
func (d *Device) UpsertEntry(ctx context.Context, s *Session, service, username, password string) (bool, error) {
	created := false
	err := d.putEntry(ctx, s, service, username, password, func(exists bool) error {
		created = !exists
		return nil
	})
	return created, err
}

func (d *Device) putEntry(ctx context.Context, s *Session, service, username, password string, check func(exists bool) error) error {
	if err := validateEntry(service, username); err != nil {
		return err
	}
	if err := vault.ValidatePassword(password); err != nil {
		return err
	}
	return d.recon.Update(ctx, s.User, func(doc *vault.Document) error {
		_, exists := doc.Vault.Get(service, username)
		if err := check(exists); err != nil {
			return err
		}
		e, err := vault.SealEntry(password, d.cipher, d.recon.Today())
		if err != nil {
			return err
		}
		doc.Vault.Put(service, username, e)
		return nil
	})
}

// GetPassword returns the plaintext password of an entry.
func (d *Device) GetPassword(ctx context.Context, s *Session, service, username string) (string, error) {
	v, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return "", err
	}
	e, ok := v.Get(service, username)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", kerrors.ErrEntryNotFound, service, username)
	}
	password, err := vault.OpenEntry(e, d.cipher)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %w", kerrors.ErrCorruptVault, service, username, err)
	}
	return password, nil
}

// DeleteEntry removes an entry. A service left without entries is removed
// with it.
func (d *Device) DeleteEntry(ctx context.Context, s *Session, service, username string) error {
	return d.recon.Update(ctx, s.User, func(doc *vault.Document) error {
		if !doc.Vault.Delete(service, username) {
			return fmt.Errorf("%w: %s/%s", kerrors.ErrEntryNotFound, service, username)
		}
		return nil
	})
}

// GeneratePassword returns a random password.
func GeneratePassword() (string, error) {
	return crypto.GeneratePassword()
}

func validateServer(title, address string, port int) error {
	if err := vault.ValidateName("server title", title); err != nil {
		return err
	}
	if err := vault.ValidateName("server address", address); err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", kerrors.ErrInvalidName, port)
	}
	return nil
}

// AddServer saves a sync endpoint under title. Titles and endpoints are
// unique within an account.
func (d *Device) AddServer(ctx context.Context, s *Session, title, address string, port int) error {
	if err := validateServer(title, address, port); err != nil {
		return err
	}
	ep := vault.Endpoint{Address: address, Port: port}
	return d.recon.Update(ctx, s.User, func(doc *vault.Document) error {
		if _, ok := doc.Vault.Servers[title]; ok {
			return fmt.Errorf("%w: %q", kerrors.ErrServerExists, title)
		}
		if other, ok := findEndpoint(doc.Vault, ep, ""); ok {
			return fmt.Errorf("%w: %s is saved as %q", kerrors.ErrServerExists, ep.HostPort(), other)
		}
		doc.Vault.Servers[title] = ep
		return nil
	})
}

// EditServer changes the endpoint saved under title.
func (d *Device) EditServer(ctx context.Context, s *Session, title, address string, port int) error {
	if err := validateServer(title, address, port); err != nil {
		return err
	}
	ep := vault.Endpoint{Address: address, Port: port}
	return d.recon.Update(ctx, s.User, func(doc *vault.Document) error {
		if _, ok := doc.Vault.Servers[title]; !ok {
			return fmt.Errorf("%w: %q", kerrors.ErrServerNotFound, title)
		}
		if other, ok := findEndpoint(doc.Vault, ep, title); ok {
			return fmt.Errorf("%w: %s is saved as %q", kerrors.ErrServerExists, ep.HostPort(), other)
		}
		doc.Vault.Servers[title] = ep
		return nil
	})
}

// DeleteServer forgets the endpoint saved under title.
func (d *Device) DeleteServer(ctx context.Context, s *Session, title string) error {
	return d.recon.Update(ctx, s.User, func(doc *vault.Document) error {
		if _, ok := doc.Vault.Servers[title]; !ok {
			return fmt.Errorf("%w: %q", kerrors.ErrServerNotFound, title)
		}
		delete(doc.Vault.Servers, title)
		return nil
	})
}

// ListServers returns the saved endpoints sorted by title.
func (d *Device) ListServers(ctx context.Context, s *Session) ([]ServerInfo, error) {
	v, err := d.recon.Snapshot(ctx, s.User)
	if err != nil {
		return nil, err
	}
	out := make([]ServerInfo, 0, len(v.Servers))
	for title, ep := range v.Servers {
		out = append(out, ServerInfo{Title: title, Endpoint: ep})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// findEndpoint returns the title ep is saved under, ignoring skip.
func findEndpoint(v *vault.Vault, ep vault.Endpoint, skip string) (string, bool) {
	for title, saved := range v.Servers {
		if title != skip && saved == ep {
			return title, true
		}
	}
	return "", false
}
