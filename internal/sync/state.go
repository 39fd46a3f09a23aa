package sync

import (
	"fmt"
	"strings"

	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// State is a step of one sync operation.
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateTransferring
	StateMerging
	StatePersisted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateTransferring:
		return "TRANSFERRING"
	case StateMerging:
		return "MERGING"
	case StatePersisted:
		return "PERSISTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:         {StateHandshaking},
	StateHandshaking:  {StateTransferring},
	StateTransferring: {StateMerging, StatePersisted}, // a served download has nothing to merge
	StateMerging:      {StatePersisted},
}

// Kind is what a sync operation does.
type Kind int

const (
	KindDownload Kind = iota + 1
	KindUploadReplace
	KindUploadRecursive
)

func (k Kind) String() string {
	switch k {
	case KindDownload:
		return "download"
	case KindUploadReplace:
		return "upload-replace"
	case KindUploadRecursive:
		return "upload-recursive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MergeMode returns the merge applied by the receiving side. Downloads
// replace local data.
func (k Kind) MergeMode() vault.MergeMode {
	if k == KindUploadRecursive {
		return vault.ModeRecursive
	}
	return vault.ModeReplace
}

// KindForMode returns the upload kind sending mode.
func KindForMode(mode vault.MergeMode) Kind {
	if mode == vault.ModeRecursive {
		return KindUploadRecursive
	}
	return KindUploadReplace
}

// ParseKind accepts "download", "replace", "recursive" and the long forms
// "upload-replace" and "upload-recursive".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "download":
		return KindDownload, nil
	case "replace", "upload-replace":
		return KindUploadReplace, nil
	case "recursive", "upload-recursive":
		return KindUploadRecursive, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q", s)
	}
}

// Operation tracks one sync through its states.
type Operation struct {
	Kind  Kind
	state State
	err   error
}

// NewOperation returns an operation in StateIdle.
func NewOperation(kind Kind) *Operation {
	return &Operation{Kind: kind}
}

func (o *Operation) State() State {
	return o.state
}

// Err returns the error that moved the operation to StateFailed.
func (o *Operation) Err() error {
	return o.err
}

// Advance moves to next if the transition is allowed.
func (o *Operation) Advance(next State) error {
	for _, allowed := range transitions[o.state] {
		if allowed == next {
			o.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move from %s to %s", kerrors.ErrProtocolViolation, o.Kind, o.state, next)
}

// Fail moves the operation to StateFailed and returns err. A terminal
// operation keeps its state.
func (o *Operation) Fail(err error) error {
	if !o.state.Terminal() {
		o.state = StateFailed
		o.err = err
	}
	return err
}
