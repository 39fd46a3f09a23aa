package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestLogger_Levels(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name     string
		logger   Logger
		wantOut  []string
		wantNone []string
	}{
		{
			name:     "quiet",
			logger:   Logger{},
			wantOut:  []string{"[warn] w", "[error] e"},
			wantNone: []string{"[info]", "[debug]"},
		},
		{
			name:     "verbose",
			logger:   Logger{Verbose: true},
			wantOut:  []string{"[info] i", "[warn] w"},
			wantNone: []string{"[debug]"},
		},
		{
			name:    "debug",
			logger:  Logger{Debug: true},
			wantOut: []string{"[info] i", "[debug] d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := tt.logger
			l.Out, l.Err = &buf, &buf

			l.Infof("i")
			l.Debugf("d")
			l.Warnf("w")
			l.Errorf("e")

			out := buf.String()
			for _, s := range tt.wantOut {
				if !strings.Contains(out, s) {
					t.Errorf("output %q missing %q", out, s)
				}
			}
			for _, s := range tt.wantNone {
				if strings.Contains(out, s) {
					t.Errorf("output %q should not contain %q", out, s)
				}
			}
		})
	}
}

func TestLogger_WithPrefix(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	l := Logger{Verbose: true, Out: &buf}.WithPrefix("conn=1").WithPrefix("user=alice")

	l.Infof("hello %d", 7)

	if got := buf.String(); got != "[info] conn=1 user=alice hello 7\n" {
		t.Errorf("output = %q", got)
	}
}

func TestLogger_ErrorfAndReturn(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{Err: &buf}
	err := l.ErrorfAndReturn("failed: %s", "boom")
	if err == nil || err.Error() != "failed: boom" {
		t.Errorf("ErrorfAndReturn() = %v", err)
	}
}
