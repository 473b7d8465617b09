// Package uuid generates run identifiers.
package uuid

import "github.com/google/uuid"

// New returns a time-ordered UUIDv7 string, so run IDs sort by creation
// time. It falls back to a random UUIDv4 if the clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
