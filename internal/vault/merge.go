package vault

import (
	"fmt"
	"strings"

	kerrors "github.com/illarion/passync/internal/errors"
)

// MergeMode selects how an incoming vault is reconciled with the local one.
type MergeMode int

const (
	// ModeReplace discards local entries and keeps exactly the incoming ones.
	ModeReplace MergeMode = iota + 1
	// ModeRecursive adds and updates incoming entries and keeps local-only ones.
	ModeRecursive
)

// Wire tokens for the merge modes.
const (
	TokenReplace   = "REPLACE"
	TokenRecursive = "RECURSIVE"
)

func (m MergeMode) String() string {
	switch m {
	case ModeReplace:
		return TokenReplace
	case ModeRecursive:
		return TokenRecursive
	default:
		return fmt.Sprintf("MergeMode(%d)", int(m))
	}
}

// Destructive reports whether the mode can drop local entries.
func (m MergeMode) Destructive() bool {
	return m == ModeReplace
}

// ParseMergeMode maps a wire token or a CLI spelling to a mode.
func ParseMergeMode(s string) (MergeMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case TokenReplace:
		return ModeReplace, nil
	case TokenRecursive:
		return ModeRecursive, nil
	default:
		return 0, fmt.Errorf("%w: unknown merge mode %q", kerrors.ErrProtocolViolation, s)
	}
}

// Merge reconciles local with incoming. Both vaults must already wrap their
// entry keys under the same master key. Entries taken from incoming get
// LastRefresh = asOf; local-only entries kept by ModeRecursive are unchanged.
// Saved servers always come from local. Neither input is modified.
//
// Deletions are not propagated by ModeRecursive: an entry removed on one side
// reappears when the other side syncs recursively.
func Merge(local, incoming *Vault, mode MergeMode, asOf Date) (*Vault, error) {
	merged := New()
	if local != nil {
		for title, ep := range local.Servers {
			merged.Servers[title] = ep
		}
	}

	switch mode {
	case ModeReplace:
	case ModeRecursive:
		if local != nil {
			merged.Data = local.Clone().Data
		}
	default:
		return nil, fmt.Errorf("%w: unknown merge mode %d", kerrors.ErrProtocolViolation, int(mode))
	}

	if incoming != nil {
		for service, users := range incoming.Data {
			for user, e := range users {
				e.LastRefresh = asOf
				merged.Put(service, user, e)
			}
		}
	}
	merged.Prune()
	return merged, nil
}
