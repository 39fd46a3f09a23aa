package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/illarion/passync/internal/config"
	"github.com/illarion/passync/internal/core"
	"github.com/illarion/passync/internal/crypto"
	kerrors "github.com/illarion/passync/internal/errors"
	"github.com/illarion/passync/internal/git"
	"github.com/illarion/passync/internal/keystore"
	"github.com/illarion/passync/internal/ui"

	"github.com/briandowns/spinner"
)

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		HandleError(err)
	}
	if dataDir != "" {
		cfg.Client.DataDir = dataDir
		cfg.Server.DataDir = dataDir
	}
	return cfg
}

func deviceOptions(cfg *config.Config) core.Options {
	return core.Options{Config: cfg.Client, Log: Logger}
}

// openDevice opens the device or exits.
func openDevice() *core.Device {
	device, err := core.Open(deviceOptions(loadConfig()))
	if err != nil {
		HandleError(err)
	}
	return device
}

// resolveUser returns the --user flag, or the only account on the device.
func resolveUser(device *core.Device) string {
	if userName != "" {
		return userName
	}
	users, err := device.Users()
	if err != nil {
		HandleError(err)
	}
	switch len(users) {
	case 0:
		HandleError(kerrors.ErrUserNotFound)
	case 1:
		return users[0]
	}
	fmt.Fprintf(os.Stderr, "Error: this device has %d accounts, choose one with --user\n", len(users))
	os.Exit(1)
	return ""
}

// GetPassword retrieves the account password from the environment, the OS
// keyring or a prompt. The caller clears the returned bytes.
func GetPassword(deviceID, user, prompt string) ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	if deviceID != "" && keystore.HasPassword(deviceID, user) {
		password, err := keystore.GetPassword(deviceID, user)
		if err == nil {
			Logger.Debugf("using keyring password for %s", user)
			return []byte(password), nil
		}
		Logger.Warnf("failed to read keyring password: %v", err)
	}

	password, err := core.ReadPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// GetPasswordForRegister checks the environment variable first, then prompts
// with confirmation.
func GetPasswordForRegister() ([]byte, error) {
	if password := core.GetPasswordFromEnv(); password != nil {
		return password, nil
	}
	return core.ReadPasswordConfirm()
}

// login opens the device and logs into the selected account, or exits.
func login(ctx context.Context) (*core.Device, *core.Session) {
	device := openDevice()
	user := resolveUser(device)

	password, err := GetPassword(device.ID(), user, fmt.Sprintf("Password for %s: ", user))
	if err != nil {
		device.Close()
		HandleError(err)
	}
	defer crypto.ClearBytes(password)

	session, err := device.Login(ctx, user, password)
	if err != nil {
		device.Close()
		HandleError(err)
	}
	return device, session
}

// readSecret reads an entry password: generated, from stdin when it is not a
// terminal, or from a prompt.
func readSecret(generate bool) (string, bool) {
	if generate {
		password, err := core.GeneratePassword()
		if err != nil {
			HandleError(err)
		}
		return password, true
	}
	if !core.IsTerminal() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			HandleError(err)
		}
		return strings.TrimRight(line, "\r\n"), false
	}
	password, err := core.ReadPassword("Entry password: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(password)
	return string(password), false
}

// confirm asks a yes/no question. The default is No.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// startSpinner shows progress unless verbose output would interleave with it.
// The returned cleanup prints FinalMSG.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		stderr.attach(s)
	}

	return s, func() {
		final := s.FinalMSG
		s.FinalMSG = ""
		if quiet {
			stderr.attach(nil)
			s.Stop()
		}
		if final != "" {
			if !strings.HasSuffix(final, "\n") {
				final += "\n"
			}
			fmt.Print(final)
		}
	}
}

// stderr is the logger's error stream. Warnings printed while a spinner runs
// pause it so they do not land inside the spinner line.
var stderr = &pausingWriter{out: os.Stderr}

type pausingWriter struct {
	mu      sync.Mutex
	out     io.Writer
	spinner *spinner.Spinner
}

func (w *pausingWriter) attach(s *spinner.Spinner) {
	w.mu.Lock()
	w.spinner = s
	w.mu.Unlock()
}

func (w *pausingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s := w.spinner; s != nil && s.Active() {
		final := s.FinalMSG
		s.FinalMSG = ""
		s.Stop()
		defer func() {
			s.FinalMSG = final
			s.Start()
		}()
	}
	return w.out.Write(p)
}

// HandleError maps errors to friendly messages and exits.
func HandleError(err error) {
	fmt.Fprintln(os.Stderr, describe(err))
	os.Exit(1)
}

func describe(err error) string {
	prefix := ui.Error.Sprint("Error:")
	switch {
	case errors.Is(err, kerrors.ErrNotInitialized):
		return prefix + " passync is not initialized on this device\nRun " + ui.Code.Sprint("passync init") + " first"
	case errors.Is(err, core.ErrAlreadyExists):
		return prefix + " passync is already initialized on this device"
	case errors.Is(err, kerrors.ErrMasterKeyMissing):
		return prefix + " the master key of this device is missing\nRestore it, or move the vault here with " + ui.Code.Sprint("passync receive")
	case errors.Is(err, kerrors.ErrWrongPassword):
		return prefix + " wrong password"
	case errors.Is(err, kerrors.ErrUserExists):
		return prefix + " account already exists"
	case errors.Is(err, kerrors.ErrUserNotFound):
		return prefix + " account not found\nCreate one with " + ui.Code.Sprint("passync register <user>")
	case errors.Is(err, kerrors.ErrNothingToUpload):
		return prefix + " no passwords are saved"
	case errors.Is(err, core.ErrAborted):
		return "Cancelled"
	case errors.Is(err, kerrors.ErrRemoteFailure):
		return prefix + " the server refused: " + err.Error()
	case errors.Is(err, kerrors.ErrHandshakeFailure):
		return prefix + " could not establish a session: " + err.Error() +
			"\nIf this device was never used with the server, retry with " + ui.Code.Sprint("--enroll")
	case errors.Is(err, kerrors.ErrCorruptVault):
		return prefix + " stored data is corrupt: " + err.Error()
	default:
		return prefix + " " + err.Error()
	}
}

// readAccountPassword reads the password from the environment or a prompt,
// never from the keyring.
func readAccountPassword(user string) ([]byte, error) {
	return GetPassword("", user, fmt.Sprintf("Password for %s: ", user))
}

// warnExposure prints a warning when a file holding key material could be
// committed to git.
func warnExposure(paths ...string) {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		if a, err := filepath.Abs(p); err == nil {
			abs = append(abs, a)
		}
	}
	if out := git.FormatExposure(git.CheckExposure(abs)); out != "" {
		fmt.Fprint(os.Stderr, ui.Warning.Sprint(out))
	}
}
