package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/storage"
	psync "github.com/illarion/passync/internal/sync"
	"github.com/illarion/passync/internal/vault"
)

// startSyncServer runs a sync server on loopback and returns its port.
func startSyncServer(t *testing.T) int {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Failed to open server storage: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize server storage: %v", err)
	}
	master, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	srv := psync.NewServer(store, master, psync.ServerOptions{Enroll: config.EnrollFirstUse, Timeout: 5 * time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func addEntries(t *testing.T, d *Device, s *Session, entries map[vault.Ref]string) {
	t.Helper()
	for r, pw := range entries {
		if _, err := d.UpsertEntry(context.Background(), s, r.Service, r.Username, pw); err != nil {
			t.Fatalf("UpsertEntry(%s) failed: %v", r, err)
		}
	}
}

func entryNames(t *testing.T, d *Device, s *Session) string {
	t.Helper()
	entries, err := d.ListEntries(context.Background(), s)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Service+"/"+e.Username)
	}
	return fmt.Sprint(names)
}

func TestBeginSync_UploadDownload(t *testing.T) {
	port := startSyncServer(t)
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")

	addEntries(t, d, s, map[vault.Ref]string{
		{Service: "github", Username: "alice"}: "p1",
		{Service: "mail", Username: "alice"}:   "p2",
	})
	if err := d.AddServer(ctx, s, "home", "127.0.0.1", port); err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}

	res, err := d.BeginSync(ctx, s, psync.KindUploadRecursive, "home", SyncOptions{Enroll: true})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if res.State != psync.StatePersisted || res.Entries != 2 {
		t.Errorf("Upload result = %+v", res)
	}

	// Local changes are replaced by the download
	if err := d.DeleteEntry(ctx, s, "mail", "alice"); err != nil {
		t.Fatal(err)
	}
	addEntries(t, d, s, map[vault.Ref]string{{Service: "bank", Username: "alice"}: "p3"})

	var states []psync.State
	res, err = d.BeginSync(ctx, s, psync.KindDownload, fmt.Sprintf("127.0.0.1:%d", port), SyncOptions{
		OnState: func(st psync.State) { states = append(states, st) },
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if res.Entries != 2 || len(states) == 0 || states[len(states)-1] != psync.StatePersisted {
		t.Errorf("Download result = %+v, states %v", res, states)
	}
	if got := entryNames(t, d, s); got != "[github/alice mail/alice]" {
		t.Errorf("Entries after download = %s", got)
	}
	if pw, _ := d.GetPassword(ctx, s, "mail", "alice"); pw != "p2" {
		t.Errorf("GetPassword = %q, want p2", pw)
	}

	// Saved servers survive the download
	servers, _ := d.ListServers(ctx, s)
	if len(servers) != 1 || servers[0].Title != "home" {
		t.Errorf("Servers after download = %+v", servers)
	}
}

func TestBeginSync_ConfirmDownload(t *testing.T) {
	port := startSyncServer(t)
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")
	target := fmt.Sprintf("127.0.0.1:%d", port)

	addEntries(t, d, s, map[vault.Ref]string{{Service: "github", Username: "alice"}: "p1"})
	if _, err := d.BeginSync(ctx, s, psync.KindUploadReplace, target, SyncOptions{Enroll: true}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	addEntries(t, d, s, map[vault.Ref]string{{Service: "bank", Username: "alice"}: "p3"})

	var asked vault.Preview
	_, err := d.BeginSync(ctx, s, psync.KindDownload, target, SyncOptions{
		Confirm: func(p vault.Preview) bool { asked = p; return false },
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	if len(asked.Removed) != 1 || asked.Removed[0] != "bank/alice" {
		t.Errorf("Preview = %+v", asked)
	}
	if got := entryNames(t, d, s); got != "[bank/alice github/alice]" {
		t.Errorf("Aborted download changed entries: %s", got)
	}

	if _, err := d.BeginSync(ctx, s, psync.KindDownload, target, SyncOptions{
		Confirm: func(vault.Preview) bool { return true },
	}); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if got := entryNames(t, d, s); got != "[github/alice]" {
		t.Errorf("Entries after confirmed download = %s", got)
	}
}

func TestPreviewUpload(t *testing.T) {
	port := startSyncServer(t)
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")
	target := fmt.Sprintf("127.0.0.1:%d", port)

	addEntries(t, d, s, map[vault.Ref]string{{Service: "github", Username: "alice"}: "p1"})

	// Nothing stored remotely yet
	p, err := d.PreviewUpload(ctx, s, target, SyncOptions{Enroll: true})
	if err != nil {
		t.Fatalf("PreviewUpload failed: %v", err)
	}
	if len(p.Added) != 1 || len(p.Removed) != 0 {
		t.Errorf("Preview = %+v", p)
	}

	if _, err := d.BeginSync(ctx, s, psync.KindUploadRecursive, target, SyncOptions{}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := d.DeleteEntry(ctx, s, "github", "alice"); err != nil {
		t.Fatal(err)
	}
	addEntries(t, d, s, map[vault.Ref]string{{Service: "bank", Username: "alice"}: "p3"})

	p, err = d.PreviewUpload(ctx, s, target, SyncOptions{})
	if err != nil {
		t.Fatalf("PreviewUpload failed: %v", err)
	}
	if fmt.Sprint(p.Added, p.Removed) != "[bank/alice] [github/alice]" {
		t.Errorf("Preview = %+v", p)
	}
}

func TestBeginSync_Failures(t *testing.T) {
	port := startSyncServer(t)
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")
	target := fmt.Sprintf("127.0.0.1:%d", port)

	if _, err := d.BeginSync(ctx, s, psync.KindUploadReplace, target, SyncOptions{Enroll: true}); !errors.Is(err, kerrors.ErrNothingToUpload) {
		t.Errorf("Expected ErrNothingToUpload, got %v", err)
	}
	res, err := d.BeginSync(ctx, s, psync.KindDownload, target, SyncOptions{Enroll: true})
	if !errors.Is(err, kerrors.ErrRemoteFailure) {
		t.Errorf("Expected ErrRemoteFailure, got %v", err)
	}
	if res == nil || res.State != psync.StateFailed {
		t.Errorf("Result = %+v", res)
	}
	if _, err := d.BeginSync(ctx, s, psync.KindDownload, "", SyncOptions{}); !errors.Is(err, kerrors.ErrServerNotFound) {
		t.Errorf("Expected ErrServerNotFound, got %v", err)
	}
}

func TestRecover(t *testing.T) {
	port := startSyncServer(t)
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")
	target := fmt.Sprintf("127.0.0.1:%d", port)

	addEntries(t, d, s, map[vault.Ref]string{{Service: "github", Username: "alice"}: "p1"})
	if _, err := d.BeginSync(ctx, s, psync.KindUploadReplace, target, SyncOptions{Enroll: true}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	// Lose the local account
	if err := d.db.DeleteDocument("alice"); err != nil {
		t.Fatal(err)
	}

	s, res, err := d.Recover(ctx, "alice", []byte("new-password"), target, SyncOptions{})
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if res.Entries != 1 {
		t.Errorf("Recover result = %+v", res)
	}
	if pw, _ := d.GetPassword(ctx, s, "github", "alice"); pw != "p1" {
		t.Errorf("GetPassword = %q, want p1", pw)
	}
	if _, err := d.Login(ctx, "alice", []byte("new-password")); err != nil {
		t.Errorf("Login with the recovery password failed: %v", err)
	}

	// An intact account keeps its password
	if _, _, err := d.Recover(ctx, "alice", password, target, SyncOptions{}); !errors.Is(err, kerrors.ErrWrongPassword) {
		t.Errorf("Expected ErrWrongPassword, got %v", err)
	}
}

func TestSendReceive(t *testing.T) {
	sender := newDevice(t)
	receiver := newDevice(t)
	ctx := context.Background()
	from := login(t, sender, "alice")
	to := login(t, receiver, "alice")

	addEntries(t, sender, from, map[vault.Ref]string{
		{Service: "github", Username: "alice"}: "p1",
		{Service: "mail", Username: "alice"}:   "p2",
	})
	addEntries(t, receiver, to, map[vault.Ref]string{{Service: "old", Username: "alice"}: "p0"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- receiver.Receive(ctx, to, ln) }()

	res, err := sender.Send(ctx, from, ln.Addr().String(), vault.ModeReplace, SyncOptions{})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if res.Entries != 2 {
		t.Errorf("Send result = %+v", res)
	}
	if err := <-done; err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if got := entryNames(t, receiver, to); got != "[github/alice mail/alice]" {
		t.Errorf("Received entries = %s", got)
	}
	if pw, _ := receiver.GetPassword(ctx, to, "mail", "alice"); pw != "p2" {
		t.Errorf("GetPassword = %q, want p2", pw)
	}
	// The receiving account still logs in with its own password
	if _, err := receiver.Login(ctx, "alice", password); err != nil {
		t.Errorf("Login after receive failed: %v", err)
	}
}

func TestReceive_Cancel(t *testing.T) {
	d := newDevice(t)
	s := login(t, d, "alice")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Receive(ctx, s, ln); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	d := newDevice(t)
	ctx := context.Background()
	s := login(t, d, "alice")
	if err := d.AddServer(ctx, s, "home", "10.0.0.2", 9100); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		want   string
	}{
		{"home", "10.0.0.2:9100"},
		{"example.com:7000", "example.com:7000"},
		{"example.com", "example.com:9000"},
		{"::1", "[::1]:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := d.resolve(ctx, s, tt.target, config.DefaultServerPort)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("resolve(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}
