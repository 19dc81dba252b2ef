// Package errs defines the sentinel errors shared by the sync pipeline stages.
package errs

import "errors"

var (
	// ErrCredential is returned when the vault cannot produce usable secrets.
	ErrCredential = errors.New("credential error")
	// ErrAuth is returned when a step of the authentication chain fails.
	ErrAuth = errors.New("authentication failed")
	// ErrNoAccountBound is returned when the remote account has no linked game identity.
	ErrNoAccountBound = errors.New("no game account bound")
	// ErrRoleLogin is returned when the final role-login call is rejected.
	ErrRoleLogin = errors.New("role login failed")
	// ErrFetch is returned when the category list or a records page cannot be retrieved.
	ErrFetch = errors.New("fetch failed")
	// ErrStorage is returned when a ledger, metadata or config file cannot be written.
	ErrStorage = errors.New("storage error")
	// ErrSyncInProgress is returned when a sync for the same account is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrInvalidName is returned when a user or account name is not a safe path segment.
	ErrInvalidName = errors.New("invalid name")
)
