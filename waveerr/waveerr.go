// Package waveerr defines the sentinel error kinds shared by chron,
// chronmarkup, codec, world, and waveapp. Call sites wrap these with
// fmt.Errorf("...: %w", ...) so callers can still use errors.Is.
package waveerr

import "errors"

var (
	// ErrUnknownRef is raised when a Ref cannot be resolved in any ancestor
	// world.
	ErrUnknownRef = errors.New("waveerr: unknown ref")

	// ErrLockedWrite is raised when a write is attempted against a locked
	// world.
	ErrLockedWrite = errors.New("waveerr: write to locked world")

	// ErrTypeMismatch is raised when a slot's type constraint is violated on
	// assignment.
	ErrTypeMismatch = errors.New("waveerr: slot type mismatch")

	// ErrCommitConflict is raised when commit finds that a cached read no
	// longer matches the parent's current value.
	ErrCommitConflict = errors.New("waveerr: commit conflict")

	// ErrSchemaConflict is raised at type-registration time when the sample
	// is not a struct, or when a name or Go type is already bound to a
	// different type or name.
	ErrSchemaConflict = errors.New("waveerr: schema conflict")

	// ErrUnknownType is raised when the decoder sees an unregistered type
	// tag.
	ErrUnknownType = errors.New("waveerr: unknown type")

	// ErrMalformed is raised when a varint or UTF-8 decode overruns its
	// limits.
	ErrMalformed = errors.New("waveerr: malformed stream")

	// ErrCorruptAccess is raised when a caller reads the atom of a deleted
	// Chron entry directly, or trips a similar invariant violation.
	ErrCorruptAccess = errors.New("waveerr: corrupt access")
)
