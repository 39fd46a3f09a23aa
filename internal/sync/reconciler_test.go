package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/vault"
)

// memStore keeps documents as JSON so every load returns a fresh copy.
type memStore struct {
	docs    map[string][]byte
	saves   int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) LoadDocument(user string) (*vault.Document, error) {
	b, ok := m.docs[user]
	if !ok {
		return nil, kerrors.ErrUserNotFound
	}
	doc := &vault.Document{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, err
	}
	doc.User = user
	return doc, nil
}

func (m *memStore) SaveDocument(doc *vault.Document) error {
	if m.failing {
		return errors.New("disk full")
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.docs[doc.User] = b
	m.saves++
	return nil
}

func testMaster(t *testing.T) (*crypto.Key, *crypto.Cipher) {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return k, crypto.NewCipher(k)
}

func sealed(t *testing.T, master *crypto.Cipher, passwords map[vault.Ref]string) *vault.Vault {
	t.Helper()
	v := vault.New()
	for ref, pw := range passwords {
		e, err := vault.SealEntry(pw, master, vault.Date{})
		if err != nil {
			t.Fatalf("SealEntry() error = %v", err)
		}
		v.Put(ref.Service, ref.Username, e)
	}
	return v
}

func fixedClock(r *Reconciler, day string) {
	d, _ := vault.ParseDate(day)
	r.now = func() time.Time { return d.Time() }
}

func TestReconciler_ApplyKeepsLogin(t *testing.T) {
	_, master := testMaster(t)
	store := newMemStore()
	r := NewReconciler(store, master, nil)
	fixedClock(r, "02-03-2026")

	doc := vault.NewDocument("alice")
	doc.Password, doc.UserKey = "wrapped-pw", "wrapped-key"
	doc.Vault = sealed(t, master, map[vault.Ref]string{{Service: "github", Username: "alice"}: "p1"})
	doc.Vault.Servers["home"] = vault.Endpoint{Address: "10.0.0.9", Port: 9000}
	store.SaveDocument(doc)

	incoming := sealed(t, master, map[vault.Ref]string{{Service: "gmail", Username: "alice"}: "p2"})
	merged, err := r.Apply(context.Background(), "alice", incoming, vault.ModeRecursive)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if merged.Len() != 2 {
		t.Errorf("merged Len() = %d, want 2", merged.Len())
	}

	stored, err := store.LoadDocument("alice")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Password != "wrapped-pw" || stored.UserKey != "wrapped-key" {
		t.Error("login fields lost")
	}
	if _, ok := stored.Vault.Servers["home"]; !ok {
		t.Error("saved server lost")
	}
	e, _ := stored.Vault.Get("gmail", "alice")
	if e.LastRefresh.String() != "02-03-2026" {
		t.Errorf("LastRefresh = %q", e.LastRefresh)
	}
}

func TestReconciler_ApplyCreatesDocument(t *testing.T) {
	_, master := testMaster(t)
	store := newMemStore()
	r := NewReconciler(store, master, nil)

	incoming := sealed(t, master, map[vault.Ref]string{{Service: "bank", Username: "bob"}: "pw"})
	if _, err := r.Apply(context.Background(), "bob", incoming, vault.ModeReplace); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	doc, err := store.LoadDocument("bob")
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	if doc.HasLogin() || doc.Vault.Len() != 1 {
		t.Errorf("document = %+v", doc)
	}
}

func TestReconciler_NothingPersistedOnFailure(t *testing.T) {
	_, master := testMaster(t)
	store := newMemStore()
	r := NewReconciler(store, master, nil)
	incoming := sealed(t, master, map[vault.Ref]string{{Service: "bank", Username: "bob"}: "pw"})

	if _, err := r.Apply(context.Background(), "bob", incoming, vault.MergeMode(9)); err == nil {
		t.Error("Apply() accepted an unknown mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Apply(ctx, "bob", incoming, vault.ModeReplace); !errors.Is(err, context.Canceled) {
		t.Errorf("Apply() with a dead context error = %v", err)
	}
	if store.saves != 0 {
		t.Errorf("store written %d times", store.saves)
	}

	store.failing = true
	if _, err := r.Apply(context.Background(), "bob", incoming, vault.ModeReplace); err == nil {
		t.Error("Apply() hid a save failure")
	}
}

func TestReconciler_SnapshotAndUpdate(t *testing.T) {
	_, master := testMaster(t)
	store := newMemStore()
	r := NewReconciler(store, master, nil)

	if _, err := r.Snapshot(context.Background(), "nobody"); !errors.Is(err, kerrors.ErrUserNotFound) {
		t.Errorf("Snapshot() error = %v", err)
	}

	store.SaveDocument(vault.NewDocument("alice"))
	err := r.Update(context.Background(), "alice", func(doc *vault.Document) error {
		doc.Vault.Servers["work"] = vault.Endpoint{Address: "10.1.1.1", Port: 9000}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap, err := r.Snapshot(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap.Servers["work"]; !ok {
		t.Error("update not persisted")
	}

	before := store.saves
	sentinel := errors.New("stop")
	if err := r.Update(context.Background(), "alice", func(*vault.Document) error { return sentinel }); err != sentinel {
		t.Errorf("Update() error = %v", err)
	}
	if store.saves != before {
		t.Error("failed update was saved")
	}
}

func TestReconciler_Rotate(t *testing.T) {
	_, master := testMaster(t)
	store := newMemStore()
	r := NewReconciler(store, master, nil)
	fixedClock(r, "06-30-2026")

	doc := vault.NewDocument("alice")
	doc.Vault = sealed(t, master, map[vault.Ref]string{
		{Service: "old", Username: "alice"}: "p1",
		{Service: "new", Username: "alice"}: "p2",
	})
	fresh, _ := doc.Vault.Get("new", "alice")
	fresh.LastRefresh = r.Today()
	doc.Vault.Put("new", "alice", fresh)
	store.SaveDocument(doc)

	n, err := r.Rotate(context.Background(), "alice", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("rotated %d, want 1", n)
	}

	saves := store.saves
	if n, _ := r.Rotate(context.Background(), "alice", 7*24*time.Hour); n != 0 {
		t.Errorf("second Rotate() rotated %d", n)
	}
	if store.saves != saves {
		t.Error("Rotate() saved without changes")
	}
}
