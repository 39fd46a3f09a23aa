package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	serviceName = "passync"
	EnvFileName = ".env"
	EnvKeyName  = "MAIN_KEY"
)

// Store locates the master key of one device.
type Store struct {
	source   string
	dataDir  string
	deviceID string
}

// New returns a store for the given source. deviceID names the keyring
// account and is unused by the env-file source.
func New(source, dataDir, deviceID string) (*Store, error) {
	switch source {
	case config.SourceEnvFile, config.SourceKeyring:
	default:
		return nil, fmt.Errorf("unknown master key source %q", source)
	}
	return &Store{source: source, dataDir: dataDir, deviceID: deviceID}, nil
}

func (s *Store) envPath() string {
	return filepath.Join(s.dataDir, EnvFileName)
}

func (s *Store) account() string {
	return "master:" + s.deviceID
}

// Load returns the master key, or kerrors.ErrMasterKeyMissing.
func (s *Store) Load() (*crypto.Key, error) {
	var encoded string
	switch s.source {
	case config.SourceKeyring:
		v, err := keyring.Get(serviceName, s.account())
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, kerrors.ErrMasterKeyMissing
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read keyring: %w", err)
		}
		encoded = v
	default:
		env, err := godotenv.Read(s.envPath())
		if errors.Is(err, os.ErrNotExist) {
			return nil, kerrors.ErrMasterKeyMissing
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.envPath(), err)
		}
		v, ok := env[EnvKeyName]
		if !ok || v == "" {
			return nil, kerrors.ErrMasterKeyMissing
		}
		encoded = v
	}

	k, err := crypto.ParseKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("stored master key is unusable: %w", err)
	}
	return k, nil
}

// Save stores k, replacing any previous master key.
func (s *Store) Save(k *crypto.Key) error {
	if s.source == config.SourceKeyring {
		return keyring.Set(serviceName, s.account(), k.Encode())
	}

	// Keep unrelated variables already in the file
	env, err := godotenv.Read(s.envPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", s.envPath(), err)
		}
		env = map[string]string{}
	}
	env[EnvKeyName] = k.Encode()

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode key file: %w", err)
	}

	// A leftover temp file may carry looser permissions
	tmp := s.envPath() + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(content + "\n"); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.envPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace key file: %w", err)
	}
	return nil
}

// Exists reports whether a master key is stored.
func (s *Store) Exists() bool {
	_, err := s.Load()
	return err == nil
}

// LoadOrCreate returns the stored master key, generating and saving one when
// none exists. created reports whether a new key was made.
func (s *Store) LoadOrCreate() (k *crypto.Key, created bool, err error) {
	k, err = s.Load()
	if err == nil {
		return k, false, nil
	}
	if !errors.Is(err, kerrors.ErrMasterKeyMissing) {
		return nil, false, err
	}
	k, err = crypto.GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(k); err != nil {
		return nil, false, err
	}
	return k, true, nil
}

// SavePassword stores an account password in the OS keyring
func SavePassword(deviceID, user, password string) error {
	return keyring.Set(serviceName, passwordAccount(deviceID, user), password)
}

// GetPassword retrieves an account password from the OS keyring
func GetPassword(deviceID, user string) (string, error) {
	return keyring.Get(serviceName, passwordAccount(deviceID, user))
}

// DeletePassword removes an account password from the OS keyring
func DeletePassword(deviceID, user string) error {
	return keyring.Delete(serviceName, passwordAccount(deviceID, user))
}

// HasPassword checks if an account password is stored in the keyring
func HasPassword(deviceID, user string) bool {
	_, err := GetPassword(deviceID, user)
	return err == nil
}

func passwordAccount(deviceID, user string) string {
	return "password:" + deviceID + ":" + user
}
