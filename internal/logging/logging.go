package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

type Logger struct {
	Verbose bool
	Debug   bool
	Prefix  string

	// Out and Err default to os.Stdout and os.Stderr.
	Out io.Writer
	Err io.Writer
}

// WithPrefix returns a copy of the logger that tags every line with prefix.
func (l Logger) WithPrefix(prefix string) Logger {
	if l.Prefix != "" {
		prefix = l.Prefix + " " + prefix
	}
	l.Prefix = prefix
	return l
}

func (l Logger) Infof(msg string, args ...any) {
	if l.Verbose || l.Debug {
		l.write(l.stdout(), color.GreenString("[info] "), msg, args...)
	}
}

func (l Logger) Debugf(msg string, args ...any) {
	if l.Debug {
		l.write(l.stdout(), color.CyanString("[debug] "), msg, args...)
	}
}

func (l Logger) Warnf(msg string, args ...any) {
	l.write(l.stderr(), color.YellowString("[warn] "), msg, args...)
}

func (l Logger) Errorf(msg string, args ...any) {
	l.write(l.stderr(), color.RedString("[error] "), msg, args...)
}

// ErrorfAndReturn logs the message as an error and returns it.
func (l Logger) ErrorfAndReturn(msg string, args ...any) error {
	l.Errorf(msg, args...)
	return fmt.Errorf(msg, args...)
}

func (l Logger) write(w io.Writer, level, msg string, args ...any) {
	line := fmt.Sprintf(msg, args...)
	if l.Prefix != "" {
		line = l.Prefix + " " + line
	}
	fmt.Fprintln(w, level+line)
}

func (l Logger) stdout() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return os.Stdout
}

func (l Logger) stderr() io.Writer {
	if l.Err != nil {
		return l.Err
	}
	return os.Stderr
}
