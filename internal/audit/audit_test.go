package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestLog_AppendsEntries(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "audit.jsonl"))

	l.Log(Entry{User: "alice", Operation: OpUpload, Outcome: OutcomeOK, Mode: "RECURSIVE", Entries: 3})
	l.Log(Entry{User: "bob", Operation: OpDownload, Outcome: OutcomeFailed, Detail: "user not found"})

	entries, err := l.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].User != "alice" || entries[0].Mode != "RECURSIVE" || entries[0].Entries != 3 {
		t.Errorf("First entry = %+v", entries[0])
	}
	if entries[1].Outcome != OutcomeFailed {
		t.Errorf("Second entry = %+v", entries[1])
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Timestamp, "Z") {
			t.Errorf("Timestamp %q is not UTC", e.Timestamp)
		}
	}

	info, err := os.Stat(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Log mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLog_Concurrent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "audit.jsonl"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Log(Entry{Operation: OpHandshake, Outcome: OutcomeOK})
		}()
	}
	wg.Wait()

	entries, err := l.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries() error = %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("Expected 20 entries, got %d", len(entries))
	}
}

func TestLog_Disabled(t *testing.T) {
	var nilLogger *Logger
	nilLogger.Log(Entry{Operation: OpRotate})

	entries, err := New("").ReadEntries()
	if err != nil || entries != nil {
		t.Errorf("ReadEntries() = %v, %v", entries, err)
	}
}

func TestParseEntries_SkipsMalformed(t *testing.T) {
	data := []byte(`{"ts":"t","op":"upload","outcome":"ok"}
not json
{"ts":"t","op":"rotate","outcome":"ok","entries":2}
{"ts":"t","op":"upl`)

	entries, err := ParseEntries(data)
	if err != nil {
		t.Fatalf("ParseEntries() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].Entries != 2 {
		t.Errorf("Second entry = %+v", entries[1])
	}
}

func TestReadEntries_MissingFile(t *testing.T) {
	entries, err := New(filepath.Join(t.TempDir(), "none.jsonl")).ReadEntries()
	if err != nil || entries != nil {
		t.Errorf("ReadEntries() = %v, %v", entries, err)
	}
}
