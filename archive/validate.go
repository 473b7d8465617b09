package archive

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength bounds namespaces and run IDs, which become storage keys.
const MaxIDLength = 255

func validateID(id, label string) error {
	if id == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidID, label)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d", ErrInvalidID, label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %s contains invalid UTF-8", ErrInvalidID, label)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return fmt.Errorf("%w: %s contains forbidden character %q", ErrInvalidID, label, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control character", ErrInvalidID, label)
		}
	}
	return nil
}
