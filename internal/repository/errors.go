// Package repository defines the MySQL-backed credential store and the
// sentinel errors shared by its repositories.  Higher layers match them
// with errors.Is to tell "not found" apart from transport failures.
package repository

import "errors"

// ErrNotFound is returned when no row matches the lookup key.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by UserRepo.Create when the unique email
// index rejects the insert.
var ErrEmailExists = errors.New("email already exists")

// ErrStaleRecord is returned by conditional writes when the row no longer
// matches the state the caller validated against (version moved on, token
// already consumed).
var ErrStaleRecord = errors.New("stale record")
