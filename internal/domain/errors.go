package domain

import "errors"

// Sentinel errors used throughout the application. Callers classify
// failures with errors.Is and decide between retry, skip, and abort.
var (
	// ErrOversizedItem marks a single item whose token cost alone meets or
	// exceeds the batch budget. It can never be admitted to any batch; the
	// batcher rejects it instead of spinning on push-back.
	ErrOversizedItem = errors.New("item exceeds the batch token budget on its own")

	// ErrDowngrade is returned when the stored schema version is newer than
	// the version this binary targets. Fatal: downgrades are not supported.
	ErrDowngrade = errors.New("database schema is newer than this binary")

	// ErrLockTimeout is returned when the migration advisory lock could not
	// be acquired within the bounded retry budget. Fatal at startup.
	ErrLockTimeout = errors.New("could not acquire migration lock")

	// ErrBadScriptName marks a migration script whose filename does not
	// match the NNN-description pattern.
	ErrBadScriptName = errors.New("migration script name does not match pattern")

	// ErrScriptGap marks a gap in migration script sequence numbers.
	ErrScriptGap = errors.New("migration scripts are not contiguously numbered")

	// ErrMissingConfig marks a required setting that was not provided.
	ErrMissingConfig = errors.New("required configuration is missing")
)
