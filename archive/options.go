package archive

import (
	"log/slog"
	"time"

	"github.com/jmcleod/ironcert/internal/util"
)

// Option configures an Archive.
type Option func(*Archive)

// WithKDFParams sets the Argon2id cost used for newly sealed records.
// Records keep the parameters they were sealed with.
// Default: util.DefaultArgon2idParams().
func WithKDFParams(p util.Argon2idParams) Option {
	return func(a *Archive) {
		a.params = p
	}
}

// WithClock overrides the time source for ArchivedAt.
func WithClock(clock func() time.Time) Option {
	return func(a *Archive) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}
