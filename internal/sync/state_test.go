package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

func TestOperation_HappyPath(t *testing.T) {
	op := NewOperation(KindUploadRecursive)
	for _, s := range []State{StateHandshaking, StateTransferring, StateMerging, StatePersisted} {
		if err := op.Advance(s); err != nil {
			t.Fatalf("Advance(%s) error = %v", s, err)
		}
	}
	if op.State() != StatePersisted {
		t.Errorf("State() = %s", op.State())
	}
	if err := op.Advance(StateMerging); !errors.Is(err, kerrors.ErrProtocolViolation) {
		t.Errorf("Advance() out of PERSISTED error = %v", err)
	}
}

func TestOperation_IllegalTransitions(t *testing.T) {
	tests := []struct {
		path []State
		next State
	}{
		{nil, StateTransferring},
		{nil, StatePersisted},
		{[]State{StateHandshaking}, StateMerging},
		{[]State{StateHandshaking}, StatePersisted},
		{[]State{StateHandshaking, StateTransferring, StateMerging}, StateHandshaking},
	}
	for _, tt := range tests {
		op := NewOperation(KindDownload)
		for _, s := range tt.path {
			if err := op.Advance(s); err != nil {
				t.Fatalf("Advance(%s) error = %v", s, err)
			}
		}
		if err := op.Advance(tt.next); err == nil {
			t.Errorf("%v -> %s allowed", tt.path, tt.next)
		}
	}
}

func TestOperation_FailIsTerminal(t *testing.T) {
	cause := errors.New("reset")
	op := NewOperation(KindDownload)
	op.Advance(StateHandshaking)

	if err := op.Fail(cause); err != cause {
		t.Errorf("Fail() = %v", err)
	}
	if op.State() != StateFailed || op.Err() != cause {
		t.Errorf("State() = %s, Err() = %v", op.State(), op.Err())
	}
	if err := op.Advance(StateTransferring); err == nil {
		t.Error("FAILED operation advanced")
	}

	done := NewOperation(KindDownload)
	for _, s := range []State{StateHandshaking, StateTransferring, StatePersisted} {
		done.Advance(s)
	}
	done.Fail(cause)
	if done.State() != StatePersisted {
		t.Errorf("Fail() changed a persisted operation to %s", done.State())
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		mode vault.MergeMode
	}{
		{"download", KindDownload, vault.ModeReplace},
		{"replace", KindUploadReplace, vault.ModeReplace},
		{"Upload-Replace", KindUploadReplace, vault.ModeReplace},
		{"recursive", KindUploadRecursive, vault.ModeRecursive},
		{"upload-recursive", KindUploadRecursive, vault.ModeRecursive},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Errorf("ParseKind(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want || got.MergeMode() != tt.mode {
			t.Errorf("ParseKind(%q) = %s/%s", tt.in, got, got.MergeMode())
		}
	}
	if _, err := ParseKind("sideways"); err == nil {
		t.Error("ParseKind accepted an unknown mode")
	}
	if KindForMode(vault.ModeRecursive) != KindUploadRecursive || KindForMode(vault.ModeReplace) != KindUploadReplace {
		t.Error("KindForMode mismatch")
	}
}

func TestLocks_SerializeSameUser(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// A different user is not blocked
	other, err := l.Lock(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Lock(bob) error = %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "alice"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Lock(alice) error = %v, want deadline exceeded", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		u, err := l.Lock(context.Background(), "alice")
		if err == nil {
			acquired <- u
		}
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	unlock() // second call is a no-op
	select {
	case u := <-acquired:
		u()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	if n := l.held("alice"); n != 0 {
		t.Errorf("held(alice) = %d after release", n)
	}
}
