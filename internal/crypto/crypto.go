package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	kerrors "github.com/illarion/passync/internal/errors"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize           = 32 // signing key (16) followed by encryption key (16)
	PasswordBytes     = 20 // random bytes behind a generated password
	tokenOverhead     = 1 + 8 + aes.BlockSize + sha256.Size
	introductionLabel = "passync introduction key v1"
)

// NoExpiry disables the token timestamp check on Unwrap.
const NoExpiry time.Duration = -1

var ErrInvalidKey = errors.New("invalid key encoding")

// Key is a symmetric Fernet key.
type Key struct {
	fk fernet.Key
}

// GenerateKey returns a fresh key from the system CSPRNG
func GenerateKey() (*Key, error) {
	k := &Key{}
	if err := k.fk.Generate(); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return k, nil
}

// ParseKey decodes a key in its base64 text form.
func ParseKey(s string) (*Key, error) {
	fk, err := fernet.DecodeKey(s)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Key{fk: *fk}, nil
}

// Encode returns the URL-safe base64 form of the key
func (k *Key) Encode() string {
	return k.fk.Encode()
}

// Fingerprint returns the hex SHA-256 of the raw key bytes.
func (k *Key) Fingerprint() string {
	sum := sha256.Sum256(k.fk[:])
	return hex.EncodeToString(sum[:])
}

// Equal reports whether both keys hold the same bytes, in constant time.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return false
	}
	return ConstantTimeCompare(k.fk[:], other.fk[:])
}

// String never prints key material.
func (k *Key) String() string {
	return "Key(" + k.Fingerprint()[:8] + ")"
}

// Destroy clears the key from memory
func (k *Key) Destroy() {
	ClearBytes(k.fk[:])
}

// DeriveIntroductionKey derives the long-lived key a device presents to a
// remote endpoint for the given user.
func DeriveIntroductionKey(master *Key, user string) (*Key, error) {
	r := hkdf.New(sha256.New, master.fk[:], nil, []byte(introductionLabel+"|"+user))
	k := &Key{}
	if _, err := io.ReadFull(r, k.fk[:]); err != nil {
		return nil, fmt.Errorf("failed to derive introduction key: %w", err)
	}
	return k, nil
}

// Cipher wraps and unwraps payloads with a single key.
type Cipher struct {
	key *fernet.Key
	ttl time.Duration
}

// NewCipher creates a cipher bound to key. Tokens never expire.
func NewCipher(key *Key) *Cipher {
	return &Cipher{key: &key.fk, ttl: NoExpiry}
}

// Wrap encrypts and signs plaintext.
func (c *Cipher) Wrap(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap payload: %w", err)
	}
	return tok, nil
}

// Unwrap verifies and decrypts a token.
func (c *Cipher) Unwrap(token []byte) ([]byte, error) {
	if !wellFormed(token) {
		return nil, kerrors.ErrAuthenticationFailure
	}
	msg := fernet.VerifyAndDecrypt(token, c.ttl, []*fernet.Key{c.key})
	if msg == nil {
		return nil, kerrors.ErrAuthenticationFailure
	}
	return msg, nil
}

// WrapString is Wrap for text payloads, returning the token as a string.
func (c *Cipher) WrapString(plaintext string) (string, error) {
	tok, err := c.Wrap([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// UnwrapString is Unwrap for tokens stored as strings.
func (c *Cipher) UnwrapString(token string) (string, error) {
	msg, err := c.Unwrap([]byte(token))
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

// WrapKey wraps another key under this cipher.
func (c *Cipher) WrapKey(k *Key) (string, error) {
	return c.WrapString(k.Encode())
}

// UnwrapKey reverses WrapKey.
func (c *Cipher) UnwrapKey(token string) (*Key, error) {
	text, err := c.UnwrapString(token)
	if err != nil {
		return nil, err
	}
	k, err := ParseKey(text)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped value is not a key", kerrors.ErrAuthenticationFailure)
	}
	return k, nil
}

// TokenSize returns the encoded length of a token whose ciphertext spans the
// given number of AES blocks. Every token has at least one block.
func TokenSize(blocks int) int {
	return base64.URLEncoding.EncodedLen(tokenOverhead + blocks*aes.BlockSize)
}

// wellFormed rejects anything that is not strict base64 of a plausible token
// before it reaches the verifier.
func wellFormed(token []byte) bool {
	if len(token) < TokenSize(1) || len(token)%4 != 0 {
		return false
	}
	raw := make([]byte, base64.URLEncoding.DecodedLen(len(token)))
	n, err := base64.URLEncoding.Decode(raw, token)
	if err != nil {
		return false
	}
	body := n - tokenOverhead
	return body >= aes.BlockSize && body%aes.BlockSize == 0
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GeneratePassword returns a random URL-safe password.
func GeneratePassword() (string, error) {
	b, err := GenerateRandom(PasswordBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
