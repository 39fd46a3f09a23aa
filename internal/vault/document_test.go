package vault

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	kerrors "github.com/illarion/passync/internal/errors"
)

func TestDocument_JSONShape(t *testing.T) {
	doc := NewDocument("alice")
	doc.Password = "wrapped-pw"
	doc.UserKey = "wrapped-key"
	doc.Vault.Put("github", "alice", Entry{Password: "p", Key: "k", LastRefresh: Date{2026, time.March, 7}})
	doc.Vault.Servers["home"] = Endpoint{Address: "10.0.0.2", Port: 9000}

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if raw["alice"] != "wrapped-pw" || raw["key"] != "wrapped-key" {
		t.Errorf("login fields = %v / %v", raw["alice"], raw["key"])
	}
	if !strings.Contains(string(b), `"last-refresh":"03-07-2026"`) {
		t.Errorf("last-refresh not in month-day-year form: %s", b)
	}
	if !strings.Contains(string(b), `"server_address":"10.0.0.2"`) {
		t.Errorf("server endpoint missing: %s", b)
	}

	var back Document
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal(Document) error = %v", err)
	}
	if back.User != "alice" || back.Password != "wrapped-pw" || back.UserKey != "wrapped-key" {
		t.Errorf("login = %+v", back)
	}
	if !reflect.DeepEqual(back.Vault, doc.Vault) {
		t.Errorf("Vault = %+v, want %+v", back.Vault, doc.Vault)
	}
}

func TestDocument_ServerSideHasNoLogin(t *testing.T) {
	doc := NewDocument("alice")

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"data":{},"servers":{}}` {
		t.Errorf("Marshal() = %s", b)
	}

	var back Document
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.HasLogin() {
		t.Error("HasLogin() = true for a document without login fields")
	}
}

func TestDocument_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"data is a list", `{"data":[]}`},
		{"two login fields", `{"alice":"a","bob":"b"}`},
		{"bad date", `{"data":{"s":{"u":{"password":"p","key":"k","last-refresh":"2026-01-01"}}}}`},
		{"numeric login", `{"alice":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Document
			err := json.Unmarshal([]byte(tt.in), &d)
			if err == nil {
				t.Fatal("Unmarshal() succeeded")
			}
			if !errors.Is(err, kerrors.ErrCorruptVault) {
				t.Errorf("Unmarshal() error = %v, want ErrCorruptVault", err)
			}
		})
	}
}

func TestDocument_PrunesEmptyServices(t *testing.T) {
	var d Document
	if err := json.Unmarshal([]byte(`{"data":{"empty":{}}}`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(d.Vault.Data) != 0 {
		t.Errorf("Data = %+v", d.Vault.Data)
	}
	if d.Vault.Servers == nil {
		t.Error("Servers is nil")
	}
}

func TestDate(t *testing.T) {
	d, err := ParseDate("12-31-2025")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d.String() != "12-31-2025" {
		t.Errorf("String() = %q", d.String())
	}
	if !d.Before(Date{2026, time.January, 1}) {
		t.Error("Before() = false")
	}

	zero, err := ParseDate("")
	if err != nil || !zero.IsZero() {
		t.Errorf("ParseDate(\"\") = %v, %v", zero, err)
	}
	if _, err := ParseDate("31-12-2025"); err == nil {
		t.Error("ParseDate accepted day-month-year")
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"alice@example.com", false},
		{"", true},
		{"   ", true},
		{"key", true},
		{"data", true},
		{"servers", true},
		{"bad\nname", true},
		{strings.Repeat("a", MaxNameLength+1), true},
	}
	for _, tt := range tests {
		err := ValidateUsername(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, kerrors.ErrInvalidName) {
			t.Errorf("ValidateUsername(%q) error = %v, want ErrInvalidName", tt.name, err)
		}
	}
}

func TestVault_DeletePrunes(t *testing.T) {
	v := vaultOf(map[string]map[string]string{"github": {"alice": "p1"}})
	if !v.Delete("github", "alice") {
		t.Fatal("Delete() = false")
	}
	if _, ok := v.Data["github"]; ok {
		t.Error("empty service kept")
	}
	if v.Delete("github", "alice") {
		t.Error("second Delete() = true")
	}
}
