package vault

import (
	"fmt"
	"time"

	"github.com/illarion/passync/internal/crypto"
)

// RotateStaleKeys re-encrypts every entry whose LastRefresh is at least maxAge
// before asOf, or unknown, under a fresh entry key. The input vault is not
// modified; the rotated copy and the number of rotated entries are returned.
func RotateStaleKeys(v *Vault, master *crypto.Cipher, asOf Date, maxAge time.Duration) (*Vault, int, error) {
	out := v.Clone()
	cutoff := asOf.Time().Add(-maxAge)
	rotated := 0

	for _, ref := range out.Refs() {
		e, _ := out.Get(ref.Service, ref.Username)
		if !e.LastRefresh.IsZero() && e.LastRefresh.Time().After(cutoff) {
			continue
		}

		password, err := OpenEntry(e, master)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to rotate %s: %w", ref, err)
		}
		fresh, err := SealEntry(password, master, asOf)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to rotate %s: %w", ref, err)
		}
		out.Put(ref.Service, ref.Username, fresh)
		rotated++
	}
	return out, rotated, nil
}
