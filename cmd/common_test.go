package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	kerrors "github.com/illarion/passync/internal/errors"
	logger "github.com/illarion/passync/internal/logging"

	"github.com/briandowns/spinner"
)

func TestPausingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &pausingWriter{out: &buf}
	log := logger.Logger{Err: w}

	s := spinner.New(spinner.CharSets[14], 10*time.Millisecond, spinner.WithWriter(io.Discard))
	s.FinalMSG = "done"
	s.Start()
	w.attach(s)
	wasActive := s.Active()

	log.Warnf("keyring unavailable")

	if got := buf.String(); !strings.Contains(got, "keyring unavailable") {
		t.Errorf("output = %q", got)
	}
	if s.Active() != wasActive {
		t.Errorf("spinner active = %v after a warning, want %v", s.Active(), wasActive)
	}
	if s.FinalMSG != "done" {
		t.Errorf("FinalMSG = %q, want it kept", s.FinalMSG)
	}

	w.attach(nil)
	s.FinalMSG = ""
	s.Stop()

	buf.Reset()
	log.Errorf("after stop")
	if !bytes.Contains(buf.Bytes(), []byte("after stop")) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{kerrors.ErrNotInitialized, "not initialized"},
		{fmt.Errorf("load: %w", kerrors.ErrNotInitialized), "passync init"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describe(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
