package protocol

import (
	"bytes"
	"crypto/aes"
	"encoding/json"
	"fmt"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// Request tokens and status strings exchanged as frame payloads.
const (
	TokenDownload = "DOWNLOAD_DATA"

	StatusUpdated        = "Successfully updated data"
	StatusDownloadFailed = "Failed to download passwords. No data saved"
	StatusInvalidMode    = "Failed to update data. Invalid update_depth sent"
	StatusInvalidData    = "Failed to update data. Invalid data"
	StatusUpdateFailed   = "Failed to update data. Server error"
)

// entriesPerFrame bounds how many entries of one service share a frame.
const entriesPerFrame = 16

// wireEntry is an entry in transit: the password under a fresh entry key and
// that key under the session key.
type wireEntry struct {
	Password string `json:"password"`
	Key      string `json:"key"`
}

type wireServices map[string]map[string]wireEntry

// Payload is one decoded frame: either a piece of a vault or a text command
// or status.
type Payload struct {
	Services vault.Services
	Text     string
}

// IsVault reports whether the payload decoded as vault data.
func (p Payload) IsVault() bool {
	return p.Services != nil
}

// EncodeVault prepares v for transfer. Every password is opened with master
// and sealed again under a new entry key, which is wrapped under session.
// Each service becomes at least one payload; large services are split.
func EncodeVault(v *vault.Vault, master, session *crypto.Cipher) ([][]byte, error) {
	var payloads [][]byte
	for _, service := range v.ServiceNames() {
		users := v.Usernames(service)
		for start := 0; start < len(users); start += entriesPerFrame {
			end := min(start+entriesPerFrame, len(users))
			piece := make(map[string]wireEntry, end-start)
			for _, user := range users[start:end] {
				e, _ := v.Get(service, user)
				password, err := vault.OpenEntry(e, master)
				if err != nil {
					return nil, fmt.Errorf("failed to open %s/%s: %w", service, user, err)
				}
				if len(password) > vault.MaxPasswordLength {
					return nil, fmt.Errorf("%w: %s/%s: password longer than %d bytes", kerrors.ErrInvalidName, service, user, vault.MaxPasswordLength)
				}
				sealed, err := vault.SealEntry(password, session, vault.Date{})
				if err != nil {
					return nil, err
				}
				piece[user] = wireEntry{Password: sealed.Password, Key: sealed.Key}
			}
			b, err := json.Marshal(wireServices{service: piece})
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, b)
		}
	}
	return payloads, nil
}

// maxVaultFrame is the encoded size of a frame holding entriesPerFrame
// entries with the longest names and passwords, under both layers. JSON may
// escape a name byte into six.
func maxVaultFrame() int {
	const key = 3 // blocks of an encoded key
	entry := 6*vault.MaxNameLength + len(`"":{"password":"","key":""},`) +
		crypto.TokenSize(vault.MaxPasswordLength/aes.BlockSize+1) + crypto.TokenSize(key)
	payload := 6*vault.MaxNameLength + len(`{"":{}}`) + entriesPerFrame*entry
	inner := crypto.TokenSize(payload/aes.BlockSize + 1)
	return crypto.TokenSize(inner/aes.BlockSize + 1)
}

// Decode classifies a frame payload. A JSON object of services is vault data;
// anything else is text.
func Decode(b []byte) Payload {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ws wireServices
		if err := json.Unmarshal(trimmed, &ws); err == nil {
			services := make(vault.Services, len(ws))
			for service, users := range ws {
				entries := make(map[string]vault.Entry, len(users))
				for user, e := range users {
					entries[user] = vault.Entry{Password: e.Password, Key: e.Key}
				}
				services[service] = entries
			}
			return Payload{Services: services}
		}
	}
	return Payload{Text: string(b)}
}

// DecodeVault joins the vault pieces of a message. Any text payload makes
// the message invalid.
func DecodeVault(payloads [][]byte) (vault.Services, error) {
	services := make(vault.Services)
	for _, b := range payloads {
		p := Decode(b)
		if !p.IsVault() {
			return nil, fmt.Errorf("%w: text payload inside vault data", kerrors.ErrProtocolViolation)
		}
		for service, users := range p.Services {
			if err := vault.ValidateName("service", service); err != nil {
				return nil, err
			}
			for user, e := range users {
				if err := vault.ValidateName("username", user); err != nil {
					return nil, err
				}
				if _, dup := services[service][user]; dup {
					return nil, fmt.Errorf("%w: %s/%s sent twice", kerrors.ErrProtocolViolation, service, user)
				}
				if services[service] == nil {
					services[service] = make(map[string]vault.Entry)
				}
				services[service][user] = e
			}
		}
	}
	return services, nil
}

// DecodeText returns the single text payload of a message.
func DecodeText(payloads [][]byte) (string, error) {
	if len(payloads) != 1 {
		return "", fmt.Errorf("%w: expected one text frame, got %d", kerrors.ErrProtocolViolation, len(payloads))
	}
	p := Decode(payloads[0])
	if p.IsVault() {
		return "", fmt.Errorf("%w: expected text, got vault data", kerrors.ErrProtocolViolation)
	}
	return p.Text, nil
}

// OpenVault moves received entry keys from the session key to master. The
// returned vault has no saved servers and no refresh dates.
func OpenVault(services vault.Services, session, master *crypto.Cipher) (*vault.Vault, error) {
	v := vault.New()
	for service, users := range services {
		if err := vault.ValidateName("service", service); err != nil {
			return nil, err
		}
		for user, e := range users {
			if err := vault.ValidateName("username", user); err != nil {
				return nil, err
			}
			local, err := vault.RewrapEntry(e, session, master)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", service, user, err)
			}
			v.Put(service, user, local)
		}
	}
	return v, nil
}
