package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket  = []byte("config")  // version, timestamps, device id
	VaultsBucket  = []byte("vaults")  // user -> document record
	ClientsBucket = []byte("clients") // user -> enrolled introduction key
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigModified = []byte("modified")
	ConfigDeviceID = []byte("device_id")
)

const (
	schemaVersion = "1"
	openTimeout   = 5 * time.Second
)

var errBucketMissing = errors.New("database not initialized")

// Storage provides BBolt-based storage for passync
type Storage struct {
	db *bolt.DB
}

// record is what the vaults bucket holds per user.
type record struct {
	Checksum string          `json:"checksum"`
	Modified time.Time       `json:"modified"`
	Document json.RawMessage `json:"document"`
}

// ClientRecord is an introduction key enrolled for a user. Key holds the
// introduction key wrapped under the server's master key.
type ClientRecord struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Enrolled    time.Time `json:"enrolled"`
	LastSeen    time.Time `json:"last_seen"`
}

// Open opens or creates a passync database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure. Calling it on an initialized
// database only fills in what is missing.
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, VaultsBucket, ClientsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte(schemaVersion)); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		if err := config.Put(ConfigModified, created); err != nil {
			return err
		}
		return config.Put(ConfigDeviceID, []byte(uuid.NewString()))
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// GetModified retrieves the time of the last document write
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return errBucketMissing
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// DeviceID returns the id generated when the database was initialized.
func (s *Storage) DeviceID() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return errBucketMissing
		}
		data := config.Get(ConfigDeviceID)
		if data == nil {
			return fmt.Errorf("device id not found")
		}
		id = string(data)
		return nil
	})
	return id, err
}

// SaveDocument writes the whole document for doc.User in one transaction.
func (s *Storage) SaveDocument(doc *vault.Document) error {
	if doc.User == "" {
		return fmt.Errorf("document has no user")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	now := time.Now()
	rec, err := json.Marshal(record{
		Checksum: checksum(body),
		Modified: now,
		Document: body,
	})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults == nil {
			return errBucketMissing
		}
		if err := vaults.Put([]byte(doc.User), rec); err != nil {
			return err
		}
		modified, _ := now.MarshalBinary()
		return tx.Bucket(ConfigBucket).Put(ConfigModified, modified)
	})
}

// LoadDocument reads and verifies the document for user.
func (s *Storage) LoadDocument(user string) (*vault.Document, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults == nil {
			return errBucketMissing
		}
		v := vaults.Get([]byte(user))
		if v == nil {
			return kerrors.ErrUserNotFound
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrCorruptVault, err)
	}
	if checksum(rec.Document) != rec.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %q", kerrors.ErrCorruptVault, user)
	}

	doc := &vault.Document{}
	if err := json.Unmarshal(rec.Document, doc); err != nil {
		return nil, fmt.Errorf("%w: document of %q: %w", kerrors.ErrCorruptVault, user, err)
	}
	if doc.User == "" {
		doc.User = user
	}
	return doc, nil
}

// HasDocument reports whether a document is stored for user.
func (s *Storage) HasDocument(user string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults == nil {
			return errBucketMissing
		}
		found = vaults.Get([]byte(user)) != nil
		return nil
	})
	return found, err
}

// DeleteDocument removes the document and any enrolled client key of user.
func (s *Storage) DeleteDocument(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults == nil {
			return errBucketMissing
		}
		if vaults.Get([]byte(user)) == nil {
			return kerrors.ErrUserNotFound
		}
		if err := vaults.Delete([]byte(user)); err != nil {
			return err
		}
		return tx.Bucket(ClientsBucket).Delete([]byte(user))
	})
}

// ListUsers returns the users with a stored document, sorted.
func (s *Storage) ListUsers() ([]string, error) {
	var users []string
	err := s.db.View(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(VaultsBucket)
		if vaults == nil {
			return nil
		}
		return vaults.ForEach(func(k, v []byte) error {
			users = append(users, string(k))
			return nil
		})
	})
	sort.Strings(users)
	return users, err
}

// ClientKey returns the enrolled introduction key of user, or nil when the
// user has not enrolled.
func (s *Storage) ClientKey(user string) (*ClientRecord, error) {
	var rec *ClientRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		clients := tx.Bucket(ClientsBucket)
		if clients == nil {
			return errBucketMissing
		}
		data := clients.Get([]byte(user))
		if data == nil {
			return nil
		}
		rec = &ClientRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// EnrollClient stores or replaces the introduction key of user.
func (s *Storage) EnrollClient(user string, rec ClientRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		clients := tx.Bucket(ClientsBucket)
		if clients == nil {
			return errBucketMissing
		}
		return clients.Put([]byte(user), data)
	})
}

// TouchClient records that user's enrolled key was just used.
func (s *Storage) TouchClient(user string, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		clients := tx.Bucket(ClientsBucket)
		if clients == nil {
			return errBucketMissing
		}
		data := clients.Get([]byte(user))
		if data == nil {
			return kerrors.ErrUserNotFound
		}
		var rec ClientRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.LastSeen = at
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return clients.Put([]byte(user), updated)
	})
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting users to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
