package errors

import "errors"

// Protocol errors classify failures of a sync connection.
var (
	// ErrAuthenticationFailure indicates a ciphertext did not authenticate under
	// the key it was opened with: wrong key, truncated or garbled input.
	ErrAuthenticationFailure = errors.New("authentication failed")

	// ErrTransportFailure indicates the connection was closed, reset or timed out.
	ErrTransportFailure = errors.New("transport failure")

	// ErrHandshakeFailure indicates the session key exchange could not be completed.
	ErrHandshakeFailure = errors.New("handshake failed")

	// ErrProtocolViolation indicates a message arrived out of order or was malformed.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrRemoteFailure indicates the peer answered with a failure status.
	ErrRemoteFailure = errors.New("remote reported failure")
)

// Account errors indicate problems with local users.
var (
	// ErrNotInitialized indicates the device has no data directory or master key yet.
	ErrNotInitialized = errors.New("passync not initialized")

	// ErrMasterKeyMissing indicates no master key could be loaded for this device.
	ErrMasterKeyMissing = errors.New("master key not found")

	// ErrUserExists indicates a user with that name is already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound indicates no document is stored for the user.
	ErrUserNotFound = errors.New("user not found")

	// ErrWrongPassword indicates the login password did not match.
	ErrWrongPassword = errors.New("wrong password")

	// ErrInvalidName indicates a username, service or server title was rejected.
	ErrInvalidName = errors.New("invalid name")
)

// Vault errors indicate problems with stored entries and servers.
var (
	// ErrEntryExists indicates the service already holds that username.
	ErrEntryExists = errors.New("entry already exists")

	// ErrEntryNotFound indicates no entry exists for the service and username.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrServerExists indicates a saved server with that title or address exists.
	ErrServerExists = errors.New("server already exists")

	// ErrServerNotFound indicates no saved server has that title.
	ErrServerNotFound = errors.New("server not found")

	// ErrCorruptVault indicates a stored document failed its checksum or did not parse.
	ErrCorruptVault = errors.New("vault document is corrupt")

	// ErrNothingToUpload indicates an upload was requested for an empty vault.
	ErrNothingToUpload = errors.New("no passwords are saved")
)
