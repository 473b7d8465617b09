package archive

import "errors"

var (
	// ErrNotFound is returned when a namespace has no archived material.
	ErrNotFound = errors.New("no archived material")

	// ErrInvalidID is returned for namespaces and run IDs that cannot be
	// used as storage keys.
	ErrInvalidID = errors.New("invalid archive identifier")

	// ErrDecrypt is returned when a record cannot be opened, usually because
	// the passphrase is wrong or the record was moved.
	ErrDecrypt = errors.New("archive record cannot be opened")

	// ErrConflict is returned when another writer saved the namespace between
	// the read and the write of a Save.
	ErrConflict = errors.New("archive changed concurrently")
)
