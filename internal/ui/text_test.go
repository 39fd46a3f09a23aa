package ui

import (
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/illarion/passync/internal/vault"
)

func TestFormatterWithColor(t *testing.T) {
	os.Unsetenv("NO_COLOR")
	color.NoColor = false

	result := Code.Sprint("passync download home")
	if strings.Contains(result, "`") {
		t.Errorf("Code.Sprint should not contain backticks when color is enabled, got: %s", result)
	}
	if !strings.Contains(result, "\x1b[") {
		t.Errorf("Code.Sprint should contain ANSI escape codes when color is enabled, got: %s", result)
	}
}

func TestFormatterWithoutColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"code", Code.Sprint("passync ls"), "`passync ls`"},
		{"highlight", Highlight.Sprint("alice"), "'alice'"},
		{"muted", Muted.Sprintf("%d entries", 3), "(3 entries)"},
		{"success", Success.Sprint("done"), "done"},
		{"path", Path.Sprint("backup.json"), "backup.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestRenderPreview(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	p := vault.Preview{
		Mode:    vault.ModeReplace,
		Added:   []string{"mail/carol"},
		Updated: []string{"github/alice"},
		Removed: []string{"bank/alice"},
		Kept:    []string{"ignored/x"},
	}
	want := "+ mail/carol\n~ github/alice\n- bank/alice\n"
	if got := RenderPreview(p); got != want {
		t.Errorf("RenderPreview() = %q, want %q", got, want)
	}
	if got := RenderPreview(vault.Preview{}); got != "" {
		t.Errorf("RenderPreview(empty) = %q", got)
	}
}
