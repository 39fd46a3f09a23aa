package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	kerrors "github.com/illarion/passync/internal/errors"
)

func mustKey(t *testing.T) *Key {
	t.Helper()
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return k
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"json", []byte(`{"github": {"alice": {"password": "p1"}}}`)},
		{"binary", []byte{0x00, 0xff, 0x7f, 0x80}},
		{"block aligned", bytes.Repeat([]byte("a"), 32)},
		{"large", make([]byte, 10000)},
	}

	c := NewCipher(mustKey(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := c.Wrap(tt.plaintext)
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}
			if !strings.HasPrefix(string(tok), "gAAAAA") {
				t.Errorf("token prefix = %q, want gAAAAA", tok[:6])
			}
			got, err := c.Unwrap(tok)
			if err != nil {
				t.Fatalf("Unwrap() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.plaintext)
			}
		})
	}
}

func TestUnwrap_WrongKey(t *testing.T) {
	tok, err := NewCipher(mustKey(t)).Wrap([]byte("secret"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	_, err = NewCipher(mustKey(t)).Unwrap(tok)
	if !errors.Is(err, kerrors.ErrAuthenticationFailure) {
		t.Errorf("Unwrap() with wrong key error = %v, want ErrAuthenticationFailure", err)
	}
}

func TestUnwrap_MalformedInput(t *testing.T) {
	c := NewCipher(mustKey(t))
	tok, err := c.Wrap([]byte("payload"))
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}

	tampered := append([]byte(nil), tok...)
	tampered[len(tampered)/2] ^= 0x01

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"done sentinel", []byte("DONE")},
		{"truncated", tok[:len(tok)-4]},
		{"prefix only", tok[:20]},
		{"tampered", tampered},
		{"trailing bytes", append(append([]byte(nil), tok...), []byte("DONE")...)},
		{"not base64", bytes.Repeat([]byte("!"), len(tok))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Unwrap(tt.input); !errors.Is(err, kerrors.ErrAuthenticationFailure) {
				t.Errorf("Unwrap() error = %v, want ErrAuthenticationFailure", err)
			}
		})
	}
}

func TestTokenSize_MatchesWrap(t *testing.T) {
	c := NewCipher(mustKey(t))
	for _, n := range []int{0, 1, 15, 16, 17, 100, 1000} {
		tok, err := c.Wrap(make([]byte, n))
		if err != nil {
			t.Fatalf("Wrap() error = %v", err)
		}
		blocks := n/16 + 1
		if got := TokenSize(blocks); got != len(tok) {
			t.Errorf("TokenSize(%d) = %d, token length for %d bytes = %d", blocks, got, n, len(tok))
		}
	}
}

func TestKey_EncodeParse(t *testing.T) {
	k := mustKey(t)
	parsed, err := ParseKey(k.Encode())
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if !parsed.Equal(k) {
		t.Error("parsed key differs from original")
	}
	if parsed.Fingerprint() != k.Fingerprint() {
		t.Error("fingerprints differ")
	}
	if strings.Contains(k.String(), k.Encode()) {
		t.Error("String() leaks key material")
	}

	if _, err := ParseKey("not-a-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseKey(garbage) error = %v, want ErrInvalidKey", err)
	}
}

func TestWrapKey_UnwrapKey(t *testing.T) {
	wrapping := NewCipher(mustKey(t))
	inner := mustKey(t)

	tok, err := wrapping.WrapKey(inner)
	if err != nil {
		t.Fatalf("WrapKey() error = %v", err)
	}
	got, err := wrapping.UnwrapKey(tok)
	if err != nil {
		t.Fatalf("UnwrapKey() error = %v", err)
	}
	if !got.Equal(inner) {
		t.Error("unwrapped key differs")
	}

	notKey, err := wrapping.WrapString("hello")
	if err != nil {
		t.Fatalf("WrapString() error = %v", err)
	}
	if _, err := wrapping.UnwrapKey(notKey); !errors.Is(err, kerrors.ErrAuthenticationFailure) {
		t.Errorf("UnwrapKey(non-key) error = %v, want ErrAuthenticationFailure", err)
	}
}

func TestDeriveIntroductionKey(t *testing.T) {
	master := mustKey(t)

	a1, err := DeriveIntroductionKey(master, "alice")
	if err != nil {
		t.Fatalf("DeriveIntroductionKey() error = %v", err)
	}
	a2, _ := DeriveIntroductionKey(master, "alice")
	b, _ := DeriveIntroductionKey(master, "bob")

	if !a1.Equal(a2) {
		t.Error("derivation is not deterministic")
	}
	if a1.Equal(b) {
		t.Error("different users derived the same key")
	}
	if a1.Equal(master) {
		t.Error("introduction key equals master key")
	}
}

func TestGeneratePassword(t *testing.T) {
	p1, err := GeneratePassword()
	if err != nil {
		t.Fatalf("GeneratePassword() error = %v", err)
	}
	p2, _ := GeneratePassword()
	if p1 == p2 {
		t.Error("two generated passwords are equal")
	}
	if len(p1) != 27 {
		t.Errorf("len(password) = %d, want 27", len(p1))
	}
}
