package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Operation names.
const (
	OpHandshake = "handshake"
	OpDownload  = "download"
	OpUpload    = "upload"
	OpEnroll    = "enroll"
	OpRotate    = "rotate"
)

// Outcome names.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"`             // RFC3339 with microseconds, UTC.
	Conn      string `json:"conn,omitempty"` // Connection id; empty for scheduled jobs.
	Remote    string `json:"remote,omitempty"`
	User      string `json:"user,omitempty"`
	Operation string `json:"op"`
	Outcome   string `json:"outcome"`

	Mode    string `json:"mode,omitempty"`    // Merge mode of an upload.
	Entries int    `json:"entries,omitempty"` // Entries moved or rotated.
	Detail  string `json:"detail,omitempty"`  // Error text for failures.
}

// Logger appends entries to one file. A nil *Logger or one with an empty
// path discards everything. It is safe for concurrent use.
type Logger struct {
	path string
	mu   sync.Mutex
}

// New returns a logger writing to path.
func New(path string) *Logger {
	return &Logger{path: path}
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends an entry. Failures are ignored.
func (l *Logger) Log(entry Entry) {
	if l == nil || l.path == "" {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(timestampLayout)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(append(data, '\n'))
}

// ReadEntries reads all entries from the log. A missing log has no entries.
func (l *Logger) ReadEntries() ([]Entry, error) {
	if l == nil || l.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, sc.Err()
}
