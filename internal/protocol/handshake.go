package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// Hello is the Initiator's plaintext introduction. Key carries the
// introduction key itself and is only sent when the device enrolls.
type Hello struct {
	User        string `json:"user"`
	Fingerprint string `json:"fingerprint"`
	Key         string `json:"key,omitempty"`
}

// Validate checks the fields an Opener relies on.
func (h *Hello) Validate() error {
	if err := vault.ValidateUsername(h.User); err != nil {
		return err
	}
	if len(h.Fingerprint) != 64 {
		return fmt.Errorf("%w: malformed fingerprint", kerrors.ErrProtocolViolation)
	}
	return nil
}

// Introducer resolves the introduction key an Opener wraps the session key
// under. Implementations decide whether an unknown device may enroll.
type Introducer interface {
	Introduce(ctx context.Context, hello *Hello) (*crypto.Key, error)
}

// IntroducerFunc adapts a function to Introducer.
type IntroducerFunc func(ctx context.Context, hello *Hello) (*crypto.Key, error)

func (f IntroducerFunc) Introduce(ctx context.Context, hello *Hello) (*crypto.Key, error) {
	return f(ctx, hello)
}

// Initiate runs the dialing side of the handshake: send the hello, then wait
// for the session key wrapped under the introduction key. On success ch is
// secured with the session key outside the introduction key. Any failure is
// an ErrHandshakeFailure and nothing further has been written.
func Initiate(ctx context.Context, ch *Channel, user string, intro *crypto.Key, enroll bool) error {
	hello := Hello{User: user, Fingerprint: intro.Fingerprint()}
	if enroll {
		hello.Key = intro.Encode()
	}
	line, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	if err := ch.SendLine(line); err != nil {
		return fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}

	introCipher := crypto.NewCipher(intro)
	ch.Frame(introCipher)

	payloads, err := ch.ReceiveMessage(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}
	if len(payloads) != 1 {
		return fmt.Errorf("%w: expected one session key, got %d frames", kerrors.ErrHandshakeFailure, len(payloads))
	}
	sessionKey, err := crypto.ParseKey(string(payloads[0]))
	crypto.ClearBytes(payloads[0])
	if err != nil {
		return fmt.Errorf("%w: session key: %w", kerrors.ErrHandshakeFailure, err)
	}

	ch.Secure(crypto.NewCipher(sessionKey), introCipher)
	return nil
}

// Accept runs the listening side of the handshake: read the hello, resolve
// the introduction key, then send a fresh session key wrapped under it.
func Accept(ctx context.Context, ch *Channel, introducer Introducer) (*Hello, error) {
	line, err := ch.ReceiveLine(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}
	var hello Hello
	if err := json.Unmarshal(line, &hello); err != nil {
		return nil, fmt.Errorf("%w: %w: hello: %v", kerrors.ErrHandshakeFailure, kerrors.ErrProtocolViolation, err)
	}
	if err := hello.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}

	intro, err := introducer.Introduce(ctx, &hello)
	if err != nil {
		return &hello, fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}
	if intro.Fingerprint() != hello.Fingerprint {
		return &hello, fmt.Errorf("%w: introduction key does not match the hello", kerrors.ErrHandshakeFailure)
	}

	sessionKey, err := crypto.GenerateKey()
	if err != nil {
		return &hello, err
	}
	introCipher := crypto.NewCipher(intro)
	ch.Frame(introCipher)
	if err := ch.SendMessage([]byte(sessionKey.Encode())); err != nil {
		return &hello, fmt.Errorf("%w: %w", kerrors.ErrHandshakeFailure, err)
	}

	ch.Secure(crypto.NewCipher(sessionKey), introCipher)
	return &hello, nil
}
