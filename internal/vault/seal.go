package vault

import (
	"fmt"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
)

// SealEntry encrypts password under a fresh entry key and wraps that key with
// wrapping.
func SealEntry(password string, wrapping *crypto.Cipher, asOf Date) (Entry, error) {
	entryKey, err := crypto.GenerateKey()
	if err != nil {
		return Entry{}, err
	}
	defer entryKey.Destroy()

	sealed, err := crypto.NewCipher(entryKey).WrapString(password)
	if err != nil {
		return Entry{}, err
	}
	wrappedKey, err := wrapping.WrapKey(entryKey)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Password: sealed, Key: wrappedKey, LastRefresh: asOf}, nil
}

// OpenEntry returns the plaintext password of an entry whose key is wrapped
// with wrapping.
func OpenEntry(e Entry, wrapping *crypto.Cipher) (string, error) {
	entryKey, err := wrapping.UnwrapKey(e.Key)
	if err != nil {
		return "", fmt.Errorf("failed to unwrap entry key: %w", err)
	}
	defer entryKey.Destroy()

	password, err := crypto.NewCipher(entryKey).UnwrapString(e.Password)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return password, nil
}

// RewrapEntry moves an entry's key from one wrapping key to another without
// touching the password ciphertext. The password is checked to open with the
// entry key and to fit MaxPasswordLength.
func RewrapEntry(e Entry, from, to *crypto.Cipher) (Entry, error) {
	entryKey, err := from.UnwrapKey(e.Key)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to unwrap entry key: %w", err)
	}
	defer entryKey.Destroy()

	password, err := crypto.NewCipher(entryKey).Unwrap([]byte(e.Password))
	if err != nil {
		return Entry{}, fmt.Errorf("password does not open with its entry key: %w", err)
	}
	defer crypto.ClearBytes(password)
	if len(password) > MaxPasswordLength {
		return Entry{}, fmt.Errorf("%w: password longer than %d bytes", kerrors.ErrInvalidName, MaxPasswordLength)
	}
	wrapped, err := to.WrapKey(entryKey)
	if err != nil {
		return Entry{}, err
	}
	e.Key = wrapped
	return e, nil
}
